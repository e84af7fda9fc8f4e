// Package audio provides the PCM primitives shared by every stage of the
// streamscribe pipeline: decoding of raw 16-bit little-endian PCM into
// normalised float32 samples, energy measurement, and WAV file reading for
// recogniser warm-up.
//
// The whole pipeline works in one fixed format — 16 kHz mono float32 in
// [-1, 1] — so conversion happens exactly once, at the network edge.
package audio

// SampleRate is the working sample rate of the pipeline in Hz. All audio
// entering the engine must be at this rate; clients are expected to resample
// before sending.
const SampleRate = 16000

// bitsPerSample is fixed at 16 for the signed little-endian PCM wire format.
const bitsPerSample = 16

// BytesPerSecond is the wire-format data rate: 16-bit mono at SampleRate.
const BytesPerSecond = SampleRate * bitsPerSample / 8

// Seconds returns the duration in seconds of a sample slice at SampleRate.
func Seconds(samples []float32) float64 {
	return float64(len(samples)) / SampleRate
}

// SampleIndex returns the buffer index corresponding to t seconds from the
// start of the slice. The result may be out of range for t outside the
// buffer; callers must clamp.
func SampleIndex(t float64) int {
	return int(t * SampleRate)
}
