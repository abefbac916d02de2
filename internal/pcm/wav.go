// ABOUTME: Canonical RIFF/WAVE container encoding
// ABOUTME: Wraps concatenated mono PCM16 chunks in a 44-byte header
package pcm

import (
	"encoding/binary"
)

// WAVHeaderSize is the size of the canonical PCM WAV header
const WAVHeaderSize = 44

// EncodeWAV concatenates chunks behind a mono 16-bit PCM WAV header
func EncodeWAV(chunks [][]byte, sampleRate int) []byte {
	dataLen := 0
	for _, c := range chunks {
		dataLen += len(c)
	}

	out := make([]byte, WAVHeaderSize, WAVHeaderSize+dataLen)
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16) // fmt chunk size
	le.PutUint16(out[20:22], 1)  // PCM
	le.PutUint16(out[22:24], 1)  // mono
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*BytesPerSample))
	le.PutUint16(out[32:34], BytesPerSample)
	le.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(dataLen))

	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
