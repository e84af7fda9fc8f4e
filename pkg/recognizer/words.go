package recognizer

import "strings"

// SplitSegment splits a segment-level transcription into word-level entries
// with linearly interpolated timings. Each word's share of the segment
// duration is proportional to its character length (including its separating
// space), which tracks real speech far better than an even split for mixed
// short/long words.
//
// Words keep a leading space so that concatenating them reproduces the
// segment text exactly.
func SplitSegment(text string, start, end float64) []Word {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	if end < start {
		end = start
	}

	total := 0
	for _, f := range fields {
		total += len(f) + 1
	}

	words := make([]Word, 0, len(fields))
	t := start
	dur := end - start
	for i, f := range fields {
		share := float64(len(f)+1) / float64(total)
		wEnd := t + dur*share
		if i == len(fields)-1 {
			wEnd = end // absorb rounding into the last word
		}
		words = append(words, Word{Start: t, End: wEnd, Text: " " + f})
		t = wEnd
	}
	return words
}

// NormalizeToken lowercases a token and strips surrounding whitespace and
// punctuation. Two words are considered the same occurrence by the online
// engine only if their normalised forms are equal.
func NormalizeToken(text string) string {
	return strings.Trim(strings.ToLower(text), " \t\n\r.,!?;:\"'()[]{}…。、»«-")
}
