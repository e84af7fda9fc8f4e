package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// errNotWAV is returned when a file does not start with a RIFF/WAVE header.
var errNotWAV = errors.New("audio: not a RIFF/WAVE file")

// ReadWAV reads a PCM WAV file and returns its samples as normalised float32
// mono at the file's native rate. Only 16-bit PCM is supported; multi-channel
// files are down-mixed by averaging. Returns the sample rate alongside the
// samples so callers can reject non-16 kHz input.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()
	return readWAV(f)
}

// ReadWAVChunk reads at most maxSeconds of audio starting at fromSeconds.
// Used to warm up a recogniser with a short slice of a longer file.
func ReadWAVChunk(path string, fromSeconds, maxSeconds float64) ([]float32, error) {
	samples, rate, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	lo := min(int(fromSeconds*float64(rate)), len(samples))
	hi := min(lo+int(maxSeconds*float64(rate)), len(samples))
	return samples[lo:hi], nil
}

// EncodeWAV wraps normalised float32 samples in a minimal 16-bit PCM mono
// WAV container at SampleRate. Used by backends whose transport wants a file
// payload rather than raw PCM.
func EncodeWAV(samples []float32) []byte {
	data := EncodePCM(samples)
	buf := make([]byte, 0, 44+len(data))

	u32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+len(data)))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(1)...) // mono
	buf = append(buf, u32(SampleRate)...)
	buf = append(buf, u32(BytesPerSecond)...)
	buf = append(buf, u16(2)...) // block align
	buf = append(buf, u16(bitsPerSample)...)
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(len(data)))...)
	buf = append(buf, data...)
	return buf
}

func readWAV(r io.Reader) ([]float32, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, errNotWAV
	}

	var (
		rate     int
		channels int
		bits     int
		data     []byte
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, 0, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(buf[0:2])
			if format != 1 { // PCM
				return nil, 0, fmt.Errorf("audio: unsupported WAV format code %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			rate = int(binary.LittleEndian.Uint32(buf[4:8]))
			bits = int(binary.LittleEndian.Uint16(buf[14:16]))
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, 0, fmt.Errorf("audio: read data chunk: %w", err)
			}
		default:
			// Skip unknown chunks (LIST, fact, ...). Chunk sizes are padded
			// to even byte counts per the RIFF spec.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
		if rate != 0 && data != nil {
			break
		}
	}

	if rate == 0 || channels == 0 {
		return nil, 0, errors.New("audio: missing fmt chunk")
	}
	if bits != bitsPerSample {
		return nil, 0, fmt.Errorf("audio: unsupported bit depth %d (want %d)", bits, bitsPerSample)
	}
	if data == nil {
		return nil, 0, errors.New("audio: missing data chunk")
	}

	interleaved := DecodePCM(data)
	if channels == 1 {
		return interleaved, rate, nil
	}

	// Down-mix by averaging all channels per frame.
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono, rate, nil
}
