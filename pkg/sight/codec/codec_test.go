package codec

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestTransportRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234, -4321}
	encoded := EncodeToTransport(samples)
	if encoded == "" {
		t.Fatalf("EncodeToTransport returned empty string")
	}

	raw, err := DecodeFromTransport(encoded)
	if err != nil {
		t.Fatalf("DecodeFromTransport error: %v", err)
	}
	if len(raw) != len(samples)*2 {
		t.Fatalf("decoded len=%d, want %d", len(raw), len(samples)*2)
	}
	got := BytesToSamples(raw)
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample[%d]=%d, want %d", i, got[i], samples[i])
		}
	}
}

func TestEncodeToTransport_Empty(t *testing.T) {
	if got := EncodeToTransport(nil); got != "" {
		t.Fatalf("EncodeToTransport(nil)=%q, want empty", got)
	}
	raw, err := DecodeFromTransport("")
	if err != nil || len(raw) != 0 {
		t.Fatalf("DecodeFromTransport(\"\")=(%v, %v), want empty, nil", raw, err)
	}
}

func TestEncodeToTransport_LittleEndian(t *testing.T) {
	// 0x0102 little-endian is 02 01 -> base64 "AgE=".
	if got := EncodeToTransport([]int16{0x0102}); got != "AgE=" {
		t.Fatalf("EncodeToTransport=%q, want %q", got, "AgE=")
	}
}

func TestDecodeFromTransport_Malformed(t *testing.T) {
	for _, in := range []string{"!!!!", "AgE", "Ag=E"} {
		_, err := DecodeFromTransport(in)
		if err == nil {
			t.Fatalf("DecodeFromTransport(%q) error=nil, want DecodeError", in)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("DecodeFromTransport(%q) error=%T, want *DecodeError", in, err)
		}
	}
}

func TestToBuffer_NormalizesAndDropsOddByte(t *testing.T) {
	pcm := SamplesToBytes([]int16{-32768, 0, 16384})
	pcm = append(pcm, 0x7f)

	buf := ToBuffer(pcm, 24000)
	if len(buf.Samples) != 3 {
		t.Fatalf("len(Samples)=%d, want 3", len(buf.Samples))
	}
	want := []float32{-1.0, 0, 0.5}
	for i, w := range want {
		if math.Abs(float64(buf.Samples[i]-w)) > 1e-6 {
			t.Fatalf("Samples[%d]=%v, want %v", i, buf.Samples[i], w)
		}
	}
	if buf.SampleRate != 24000 {
		t.Fatalf("SampleRate=%d, want 24000", buf.SampleRate)
	}
}

func TestBuffer_Duration(t *testing.T) {
	buf := ToBuffer(make([]byte, 24000/10*2), 24000)
	if got := buf.Duration(); got != 100*time.Millisecond {
		t.Fatalf("Duration=%v, want 100ms", got)
	}
	var nilBuf *Buffer
	if got := nilBuf.Duration(); got != 0 {
		t.Fatalf("nil Duration=%v, want 0", got)
	}
}

func TestMIMEType(t *testing.T) {
	if got := MIMEType(InputSampleRateHz); got != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType=%q", got)
	}
}
