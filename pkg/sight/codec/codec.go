// Package codec converts between PCM16 audio, its base64 transport form, and
// float buffers ready for an output device.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// InputSampleRateHz is the capture rate for microphone audio.
	InputSampleRateHz = 16000
	// OutputSampleRateHz is the rate of model speech.
	OutputSampleRateHz = 24000
)

// DecodeError reports a malformed transport payload.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode transport payload at byte %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Buffer is a mono float32 buffer normalized to [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// SamplesToBytes serializes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples parses little-endian PCM16. An odd trailing byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodeToTransport encodes samples as base64 over little-endian PCM16.
func EncodeToTransport(samples []int16) string {
	if len(samples) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(SamplesToBytes(samples))
}

// EncodeBytes encodes an arbitrary payload (for example a JPEG frame) for transport.
func EncodeBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeFromTransport is the inverse of EncodeToTransport and EncodeBytes.
func DecodeFromTransport(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var offset int64 = -1
		if corrupt, ok := err.(base64.CorruptInputError); ok {
			offset = int64(corrupt)
		}
		return nil, &DecodeError{Offset: offset, Err: err}
	}
	return out, nil
}

// ToBuffer interprets pcm as PCM16 LE mono and normalizes each sample by 1/32768.
func ToBuffer(pcm []byte, sampleRate int) *Buffer {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRateHz
	}
	n := len(pcm) / 2
	buf := &Buffer{Samples: make([]float32, n), SampleRate: sampleRate}
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		buf.Samples[i] = float32(s) / 32768.0
	}
	return buf
}

// MIMEType returns the realtime MIME type for PCM16 audio at rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
