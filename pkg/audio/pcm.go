package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func DecodePCM(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// EncodePCM converts normalised float32 samples back to 16-bit signed
// little-endian PCM bytes. Samples outside [-1, 1] are clipped. Used by the
// sender utility and by adapters whose backends consume raw PCM.
func EncodePCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(max(-32768, min(32767, math.Round(float64(s)*32768.0))))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

// RMS returns the root-mean-square energy of normalised float32 samples.
// The result is in [0, 1]; zero for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
