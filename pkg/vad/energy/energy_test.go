package energy_test

import (
	"math"
	"testing"

	"github.com/soniclane/streamscribe/pkg/audio"
	"github.com/soniclane/streamscribe/pkg/vad"
	"github.com/soniclane/streamscribe/pkg/vad/energy"
)

// ---- helpers ----------------------------------------------------------------

// tone generates seconds of a 440 Hz sine at the given amplitude.
func tone(seconds, amplitude float64) []float32 {
	n := int(seconds * audio.SampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return samples
}

// quiet generates seconds of zero samples.
func quiet(seconds float64) []float32 {
	return make([]float32, int(seconds*audio.SampleRate))
}

// ---- classification ---------------------------------------------------------

func TestClassify_Empty(t *testing.T) {
	got, err := energy.New().Classify(nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestClassify_PureSpeech(t *testing.T) {
	got, err := energy.New().Classify(tone(1, 0.5))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 || got[0].Kind != vad.Speech {
		t.Fatalf("got %v, want single speech interval", got)
	}
}

func TestClassify_PureSilence(t *testing.T) {
	got, err := energy.New().Classify(quiet(2))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 || got[0].Kind != vad.Silence {
		t.Fatalf("got %v, want single silence interval", got)
	}
	if math.Abs(got[0].End-2.0) > 0.001 {
		t.Errorf("end = %v, want 2.0", got[0].End)
	}
}

func TestClassify_SpeechSilenceSpeech(t *testing.T) {
	samples := append(tone(1, 0.5), quiet(1)...)
	samples = append(samples, tone(1, 0.5)...)

	got, err := energy.New().Classify(samples)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d intervals, want 3: %v", len(got), got)
	}
	if got[1].Kind != vad.Silence {
		t.Errorf("middle = %+v, want silence", got[1])
	}
	if math.Abs(got[1].Start-1.0) > 0.05 || math.Abs(got[1].End-2.0) > 0.05 {
		t.Errorf("silence span [%v,%v], want ~[1,2]", got[1].Start, got[1].End)
	}
}

func TestClassify_ShortGapMergedIntoSpeech(t *testing.T) {
	// 200 ms gap is below vad.MinSilence and must disappear.
	samples := append(tone(1, 0.5), quiet(0.2)...)
	samples = append(samples, tone(1, 0.5)...)

	got, err := energy.New().Classify(samples)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 1 || got[0].Kind != vad.Speech {
		t.Fatalf("got %v, want single merged speech interval", got)
	}
}

func TestClassify_CoversWindow(t *testing.T) {
	samples := append(quiet(0.7), tone(1.3, 0.5)...)
	got, err := energy.New().Classify(samples)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got[0].Start != 0 {
		t.Errorf("first start = %v, want 0", got[0].Start)
	}
	total := audio.Seconds(samples)
	if math.Abs(got[len(got)-1].End-total) > 0.001 {
		t.Errorf("last end = %v, want %v", got[len(got)-1].End, total)
	}
}
