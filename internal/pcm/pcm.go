// ABOUTME: 16-bit PCM codec and level metering
// ABOUTME: Converts between little-endian PCM16 bytes and normalized float samples
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the rate of client-originated audio
	InputSampleRate = 16000

	// OutputSampleRate is the rate of server-originated audio
	OutputSampleRate = 24000

	// BytesPerSample is the width of one mono PCM16 sample
	BytesPerSample = 2
)

// ErrMalformedBuffer matches any MalformedBufferError via errors.Is
var ErrMalformedBuffer = errors.New("malformed PCM buffer")

// MalformedBufferError reports a byte buffer that is not a whole number of samples
type MalformedBufferError struct {
	Length int
}

func (e *MalformedBufferError) Error() string {
	return fmt.Sprintf("malformed PCM buffer: %d bytes is not a multiple of %d", e.Length, BytesPerSample)
}

// Is lets errors.Is(err, ErrMalformedBuffer) succeed
func (e *MalformedBufferError) Is(target error) bool {
	return target == ErrMalformedBuffer
}

// EncodePCM16 converts float samples in [-1,1] to PCM16 little-endian bytes
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	PutPCM16(out, samples)
	return out
}

// PutPCM16 writes samples into dst, which must hold len(samples)*2 bytes
func PutPCM16(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(floatToInt16(s)))
	}
}

// floatToInt16 clamps and scales asymmetrically so -1 maps to -32768 and 1 to 32767
func floatToInt16(s float32) int16 {
	v := float64(s)
	if v != v { // NaN
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// DecodePCM16 converts PCM16 little-endian bytes to float samples
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, &MalformedBufferError{Length: len(data)}
	}

	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples, nil
}

// RMSLevel returns a display level in [0,1]: min(1, rms*3)
func RMSLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(1, rms*3)
}

// Duration returns the playback length of n samples at sampleRate, in seconds
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
