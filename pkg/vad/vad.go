// Package vad defines the Classifier interface for voice activity detection.
//
// A classifier labels an audio window as alternating speech and silence
// intervals. In this pipeline VAD is advisory only: the online engine uses
// silence boundaries to pick safe audio-buffer trim points, never to decide
// what was said. A failing classifier therefore degrades the system (the
// buffer is trimmed at committed-word boundaries instead) but never breaks
// the transcript.
package vad

// MinSilence is the shortest silence, in seconds, that counts as a real
// pause. Shorter gaps are breathing room inside an utterance and are merged
// into the surrounding speech.
const MinSilence = 0.5

// Kind labels an interval as speech or silence.
type Kind int

const (
	Speech Kind = iota
	Silence
)

// String returns "speech" or "silence".
func (k Kind) String() string {
	if k == Silence {
		return "silence"
	}
	return "speech"
}

// Interval is one labelled span of a classified window. Times are seconds
// relative to the window's first sample.
type Interval struct {
	Start float64
	End   float64
	Kind  Kind
}

// Classifier labels an audio window. Implementations must return contiguous
// intervals that cover the input exactly, with silences shorter than
// MinSilence already merged into adjacent speech.
//
// A Classifier may keep internal model state but Classify must be
// self-contained per call: the same window always yields the same labels.
type Classifier interface {
	Classify(samples []float32) ([]Interval, error)
}

// Normalize merges adjacent same-kind intervals and folds silences shorter
// than minSilence into speech. Implementations call this on their raw
// frame-level output to satisfy the Classifier contract. Leading and
// trailing short silences are folded too — a trim point inside them would
// not be safe anyway.
//
// Merging happens before folding: classifiers emit frame-level intervals,
// so a long pause arrives as many sub-minSilence frames that only exceed
// the threshold once coalesced into one run.
func Normalize(intervals []Interval, minSilence float64) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	merged := mergeAdjacent(intervals)

	// Fold short silence runs into speech. Runs are maximal after the
	// merge, so only genuinely short pauses are affected.
	for i := range merged {
		if merged[i].Kind == Silence && merged[i].End-merged[i].Start < minSilence {
			merged[i].Kind = Speech
		}
	}
	return mergeAdjacent(merged)
}

// mergeAdjacent coalesces neighbouring intervals of the same kind.
func mergeAdjacent(intervals []Interval) []Interval {
	merged := make([]Interval, 0, len(intervals))
	merged = append(merged, intervals[0])
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.Kind == last.Kind {
			last.End = iv.End
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
