package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
)

type fakeAudioStream struct {
	blocks chan []int16
	once   sync.Once
	closed bool
}

func newFakeAudioStream(n int) *fakeAudioStream {
	return &fakeAudioStream{blocks: make(chan []int16, n)}
}

func (s *fakeAudioStream) Blocks() <-chan []int16 { return s.blocks }

func (s *fakeAudioStream) Close() error {
	s.once.Do(func() {
		s.closed = true
		close(s.blocks)
	})
	return nil
}

type fakeVideoStream struct {
	mu     sync.Mutex
	img    image.Image
	closed bool
}

func solidFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func (s *fakeVideoStream) Latest() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img, s.img != nil
}

func (s *fakeVideoStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeMic struct {
	err    error
	stream *fakeAudioStream
	got    AudioConfig
}

func (m *fakeMic) Open(_ context.Context, cfg AudioConfig) (AudioStream, error) {
	m.got = cfg
	if m.err != nil {
		return nil, m.err
	}
	m.stream = newFakeAudioStream(4)
	return m.stream, nil
}

// fakeCam rejects any config whose width is listed in reject.
type fakeCam struct {
	reject map[int]bool
	opened []VideoConfig
	stream *fakeVideoStream
}

func (c *fakeCam) Open(_ context.Context, cfg VideoConfig) (VideoStream, error) {
	c.opened = append(c.opened, cfg)
	if c.reject[cfg.Width] {
		return nil, errors.New("overconstrained")
	}
	c.stream = &fakeVideoStream{}
	return c.stream, nil
}

type recordingSender struct {
	mu      sync.Mutex
	sent    []channel.RealtimeInput
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, in channel.RealtimeInput) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, in)
	return nil
}

func (s *recordingSender) snapshot() []channel.RealtimeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]channel.RealtimeInput, len(s.sent))
	copy(out, s.sent)
	return out
}

type countingStats struct {
	mu         sync.Mutex
	audioBytes int
	frames     int
	skipped    int
	sendFailed map[channel.Kind]int
}

func (c *countingStats) AudioSent(n int) {
	c.mu.Lock()
	c.audioBytes += n
	c.mu.Unlock()
}

func (c *countingStats) FrameSent(int) {
	c.mu.Lock()
	c.frames++
	c.mu.Unlock()
}

func (c *countingStats) FrameSkipped() {
	c.mu.Lock()
	c.skipped++
	c.mu.Unlock()
}

func (c *countingStats) SendFailed(kind channel.Kind) {
	c.mu.Lock()
	if c.sendFailed == nil {
		c.sendFailed = make(map[channel.Kind]int)
	}
	c.sendFailed[kind]++
	c.mu.Unlock()
}

func (c *countingStats) get() (audioBytes, frames, skipped int, failed map[channel.Kind]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[channel.Kind]int, len(c.sendFailed))
	for k, v := range c.sendFailed {
		out[k] = v
	}
	return c.audioBytes, c.frames, c.skipped, out
}
