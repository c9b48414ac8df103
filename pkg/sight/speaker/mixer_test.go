package speaker

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/codec"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
)

func readSamples(t *testing.T, m *mixer, n int) []int16 {
	t.Helper()
	p := make([]byte, n*2)
	got, err := m.Read(p)
	if err != nil || got != len(p) {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", got, err, len(p))
	}
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[i*2:]))
	}
	return out
}

func TestMixer_ClockFollowsRenderedSamples(t *testing.T) {
	m := newMixer(1000)
	if m.Now() != 0 {
		t.Fatalf("Now=%v, want 0", m.Now())
	}
	readSamples(t, m, 250)
	if m.Now() != 250*time.Millisecond {
		t.Fatalf("Now=%v, want 250ms", m.Now())
	}
}

func TestMixer_PlaysAtScheduledOffset(t *testing.T) {
	m := newMixer(1000)
	var ended atomic.Int32
	buf := &codec.Buffer{Samples: []float32{0.5, 0.5, 0.5}, SampleRate: 1000}
	if _, err := m.Play(buf, 2*time.Millisecond, func() { ended.Add(1) }); err != nil {
		t.Fatalf("Play error: %v", err)
	}

	out := readSamples(t, m, 4)
	want := []int16{0, 0, 16383, 16383}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample[%d]=%d, want %d", i, out[i], want[i])
		}
	}
	if ended.Load() != 0 {
		t.Fatalf("voice ended early")
	}
	readSamples(t, m, 4)
	if ended.Load() != 1 {
		t.Fatalf("ended=%d, want 1", ended.Load())
	}
}

func TestMixer_BackToBackVoicesDoNotOverlap(t *testing.T) {
	m := newMixer(1000)
	a := &codec.Buffer{Samples: []float32{0.25, 0.25}, SampleRate: 1000}
	b := &codec.Buffer{Samples: []float32{-0.25, -0.25}, SampleRate: 1000}
	m.Play(a, 0, nil)
	m.Play(b, 2*time.Millisecond, nil)

	out := readSamples(t, m, 4)
	if out[1] <= 0 || out[2] >= 0 {
		t.Fatalf("unexpected mix %v", out)
	}
}

func TestMixer_StopSilencesAndFiresOnce(t *testing.T) {
	m := newMixer(1000)
	var ended atomic.Int32
	buf := &codec.Buffer{Samples: make([]float32, 100), SampleRate: 1000}
	for i := range buf.Samples {
		buf.Samples[i] = 0.9
	}
	v, _ := m.Play(buf, 0, func() { ended.Add(1) })
	v.Stop()
	v.Stop()

	out := readSamples(t, m, 10)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample[%d]=%d after stop, want 0", i, s)
		}
	}
	readSamples(t, m, 10)
	if ended.Load() != 1 {
		t.Fatalf("ended=%d, want 1", ended.Load())
	}
}

func TestMixer_ClipsSum(t *testing.T) {
	m := newMixer(1000)
	buf := &codec.Buffer{Samples: []float32{0.8}, SampleRate: 1000}
	m.Play(buf, 0, nil)
	m.Play(buf, 0, nil)
	if out := readSamples(t, m, 1); out[0] != 32767 {
		t.Fatalf("clipped sample=%d, want 32767", out[0])
	}
}

func TestMixer_CloseEndsVoices(t *testing.T) {
	m := newMixer(1000)
	var ended atomic.Int32
	buf := &codec.Buffer{Samples: make([]float32, 100), SampleRate: 1000}
	m.Play(buf, 0, func() { ended.Add(1) })
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if ended.Load() != 1 {
		t.Fatalf("ended=%d, want 1", ended.Load())
	}
	if _, err := m.Play(buf, 0, nil); !errors.Is(err, playback.ErrClosed) {
		t.Fatalf("Play after close err=%v, want ErrClosed", err)
	}
}

func TestMixer_DrivesScheduler(t *testing.T) {
	m := newMixer(1000)
	s := playback.NewScheduler(m, 1000, nil)
	first, _ := s.Enqueue(make([]byte, 20))
	second, _ := s.Enqueue(make([]byte, 20))
	if second.Start != first.Start+first.Duration {
		t.Fatalf("second start=%v, want %v", second.Start, first.Start+first.Duration)
	}
	readSamples(t, m, 25)
	if s.Pending() != 0 {
		t.Fatalf("pending=%d after drain, want 0", s.Pending())
	}
}

func TestMixer_SchedulerAt24kHzNeitherOverlapsNorGaps(t *testing.T) {
	const segments, size = 500, 7
	m := newMixer(24000)
	s := playback.NewScheduler(m, 24000, nil)

	seg := make([]int16, size)
	for i := range seg {
		seg[i] = 8192
	}
	pcm := codec.SamplesToBytes(seg)
	for i := 0; i < segments; i++ {
		if _, err := s.Enqueue(pcm); err != nil {
			t.Fatalf("Enqueue[%d] error: %v", i, err)
		}
	}

	out := readSamples(t, m, segments*size+2)
	for i, v := range out[:segments*size] {
		if v != 8191 {
			t.Fatalf("sample %d = %d, want 8191 (out[%d:%d] = %v)", i, v, max(0, i-2), i+2, out[max(0, i-2):i+2])
		}
	}
	if tail := out[segments*size:]; tail[0] != 0 || tail[1] != 0 {
		t.Fatalf("tail = %v, want silence", tail)
	}
}
