package speaker

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/codec"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
)

// mixer renders scheduled voices onto a sample timeline. Its clock is the
// number of samples handed to the output so far, so Now advances only while
// the output pulls audio.
type mixer struct {
	rate int

	mu      sync.Mutex
	pos     int64
	voices  []*mixVoice
	pending []func()
	closed  bool
}

type mixVoice struct {
	m       *mixer
	start   int64
	samples []float32
	onEnded func()
	stopped bool
}

func newMixer(rate int) *mixer {
	if rate <= 0 {
		rate = codec.OutputSampleRateHz
	}
	return &mixer{rate: rate}
}

func (m *mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samplesToDuration(m.pos)
}

func (m *mixer) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(m.rate)
}

// durationToSamples rounds to the nearest sample so that a time produced by
// samplesToDuration maps back to the same index.
func (m *mixer) durationToSamples(d time.Duration) int64 {
	return (int64(d)*int64(m.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (m *mixer) Play(buf *codec.Buffer, at time.Duration, onEnded func()) (playback.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, playback.ErrClosed
	}
	start := m.durationToSamples(at)
	if start < m.pos {
		start = m.pos
	}
	v := &mixVoice{m: m, start: start, samples: buf.Samples, onEnded: onEnded}
	m.voices = append(m.voices, v)
	return v, nil
}

func (v *mixVoice) Stop() {
	v.m.mu.Lock()
	v.stopped = true
	v.m.mu.Unlock()
}

// Read renders signed 16-bit little-endian mono. It never blocks: with
// nothing scheduled it produces silence and the clock keeps moving.
func (m *mixer) Read(p []byte) (int, error) {
	frames := len(p) / 2
	m.mu.Lock()
	for i := 0; i < frames; i++ {
		t := m.pos + int64(i)
		var acc float32
		for _, v := range m.voices {
			if v.stopped {
				continue
			}
			idx := t - v.start
			if idx >= 0 && idx < int64(len(v.samples)) {
				acc += v.samples[idx]
			}
		}
		binary.LittleEndian.PutUint16(p[i*2:], uint16(toInt16(acc)))
	}
	m.pos += int64(frames)
	m.sweepLocked()
	done := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range done {
		fn()
	}
	return frames * 2, nil
}

// sweepLocked drops finished or stopped voices and queues their callbacks.
func (m *mixer) sweepLocked() {
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.stopped || m.pos >= v.start+int64(len(v.samples)) {
			if v.onEnded != nil {
				m.pending = append(m.pending, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
}

func (m *mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, v := range m.voices {
		v.stopped = true
	}
	m.sweepLocked()
	done := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range done {
		fn()
	}
	return nil
}

func toInt16(f float32) int16 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f >= 0 {
		return int16(f * 32767)
	}
	return int16(f * 32768)
}
