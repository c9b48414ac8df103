// Package playback schedules decoded speech segments back to back on an
// output device clock so that consecutive segments play without gaps or
// overlap, and stops everything at once when the model is interrupted.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/codec"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback scheduler closed")

// Voice is a handle to one scheduled buffer. Stop must be idempotent and
// safe to call after the voice has finished.
type Voice interface {
	Stop()
}

// Device is an output device with its own monotonic timeline.
//
// Play schedules buf to start at the given device time. onEnded is invoked
// once when the buffer finishes or is stopped; it must not be invoked
// synchronously from inside Play.
type Device interface {
	Now() time.Duration
	Play(buf *codec.Buffer, at time.Duration, onEnded func()) (Voice, error)
	Close() error
}

// Scheduled describes where an enqueued segment landed on the device timeline.
type Scheduled struct {
	Start    time.Duration
	Duration time.Duration
	// Underrun is true when the device drained before this segment arrived.
	Underrun bool
}

// Scheduler is safe for concurrent use, although the session drives Enqueue
// from a single goroutine.
type Scheduler struct {
	device     Device
	sampleRate int
	logger     *slog.Logger

	mu sync.Mutex
	// end is the sample index where the last scheduled segment finishes;
	// zero means re-anchor to the device.
	end    int64
	voices map[uint64]Voice
	nextID uint64
	closed bool
}

// NewScheduler returns a scheduler decoding PCM16 at sampleRate (24 kHz when
// zero) onto device.
func NewScheduler(device Device, sampleRate int, logger *slog.Logger) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = codec.OutputSampleRateHz
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		device:     device,
		sampleRate: sampleRate,
		logger:     logger,
		voices:     make(map[uint64]Voice),
	}
}

// Enqueue decodes pcm and schedules it at max(clock, device.Now()).
func (s *Scheduler) Enqueue(pcm []byte) (Scheduled, error) {
	buf := codec.ToBuffer(pcm, s.sampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Scheduled{}, ErrClosed
	}

	now := s.device.Now()
	at := s.end
	var gap time.Duration
	if n := s.toSamples(now); at < n {
		if s.end > 0 {
			gap = now - s.toDuration(s.end)
		}
		at = n
	}
	start := s.toDuration(at)
	dur := buf.Duration()
	if len(buf.Samples) == 0 {
		return Scheduled{Start: start}, nil
	}

	id := s.nextID
	s.nextID++
	voice, err := s.device.Play(buf, start, func() { s.release(id) })
	if err != nil {
		return Scheduled{}, err
	}
	s.voices[id] = voice
	s.end = at + int64(len(buf.Samples))

	if gap > 0 {
		s.logger.Debug("playback underrun", "gap", gap, "start", start)
	}
	return Scheduled{Start: start, Duration: dur, Underrun: gap > 0}, nil
}

// toSamples rounds d to the nearest sample. Durations at 24 kHz are not
// whole nanoseconds, so truncating here would start segments a sample early.
func (s *Scheduler) toSamples(d time.Duration) int64 {
	return (int64(d)*int64(s.sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

func (s *Scheduler) toDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.sampleRate)
}

func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	delete(s.voices, id)
	s.mu.Unlock()
}

// Interrupt stops every scheduled voice and re-anchors the clock to the
// device on the next Enqueue. It returns the number of voices stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.voices))
	for id, v := range s.voices {
		voices = append(voices, v)
		delete(s.voices, id)
	}
	s.end = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Close interrupts playback and releases the device. It is safe to call more
// than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Interrupt()
	return s.device.Close()
}

// Pending reports how many voices are scheduled and not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Clock returns the device time at which the next segment would start, or
// zero when playback is idle after an interrupt.
func (s *Scheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDuration(s.end)
}
