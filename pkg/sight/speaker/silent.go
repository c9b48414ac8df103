package speaker

import (
	"sync"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/codec"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
)

// Silent is a playback device that renders nothing. Its timeline follows the
// wall clock from creation, and voices end when their scheduled span has
// elapsed.
type Silent struct {
	now    func() time.Time
	origin time.Time

	mu     sync.Mutex
	voices map[*silentVoice]struct{}
	closed bool
}

var _ playback.Device = (*Silent)(nil)

type silentVoice struct {
	dev   *Silent
	timer *time.Timer
	once  sync.Once
	fn    func()
}

// NewSilent returns a silent device. now defaults to time.Now.
func NewSilent(now func() time.Time) *Silent {
	if now == nil {
		now = time.Now
	}
	return &Silent{now: now, origin: now(), voices: make(map[*silentVoice]struct{})}
}

func (s *Silent) Now() time.Duration {
	return s.now().Sub(s.origin)
}

func (s *Silent) Play(buf *codec.Buffer, at time.Duration, onEnded func()) (playback.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, playback.ErrClosed
	}
	v := &silentVoice{dev: s, fn: onEnded}
	wait := at + buf.Duration() - s.Now()
	if wait < 0 {
		wait = 0
	}
	s.voices[v] = struct{}{}
	v.timer = time.AfterFunc(wait, v.end)
	return v, nil
}

func (v *silentVoice) end() {
	v.once.Do(func() {
		v.dev.mu.Lock()
		delete(v.dev.voices, v)
		v.dev.mu.Unlock()
		if v.fn != nil {
			v.fn()
		}
	})
}

func (v *silentVoice) Stop() {
	v.timer.Stop()
	v.end()
}

// Active reports voices whose span has not yet elapsed.
func (s *Silent) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

func (s *Silent) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	voices := make([]*silentVoice, 0, len(s.voices))
	for v := range s.voices {
		voices = append(voices, v)
	}
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return nil
}
