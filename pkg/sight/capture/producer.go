package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight/channel"
	"github.com/vango-go/vai-sight/pkg/sight/codec"
)

// Sender is the upstream half of a live channel.
type Sender interface {
	Send(ctx context.Context, in channel.RealtimeInput) error
}

// Stats receives producer counters. A nil Stats is ignored.
type Stats interface {
	AudioSent(bytes int)
	FrameSent(bytes int)
	FrameSkipped()
	SendFailed(kind channel.Kind)
}

type nopStats struct{}

func (nopStats) AudioSent(int)           {}
func (nopStats) FrameSent(int)           {}
func (nopStats) FrameSkipped()           {}
func (nopStats) SendFailed(channel.Kind) {}

func statsOrNop(s Stats) Stats {
	if s == nil {
		return nopStats{}
	}
	return s
}

// AudioProducer forwards microphone blocks to the channel. Send failures are
// logged and counted; they never stop the producer.
type AudioProducer struct {
	Stream     AudioStream
	Sender     Sender
	SampleRate int
	Logger     *slog.Logger
	Stats      Stats
}

// Run returns when ctx is done or the stream closes.
func (p *AudioProducer) Run(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stats := statsOrNop(p.Stats)
	rate := p.SampleRate
	if rate <= 0 {
		rate = codec.InputSampleRateHz
	}
	mime := codec.MIMEType(rate)

	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-p.Stream.Blocks():
			if !ok {
				return nil
			}
			if len(block) == 0 {
				continue
			}
			in := channel.RealtimeInput{
				Kind:     channel.KindAudio,
				Payload:  codec.EncodeToTransport(block),
				MIMEType: mime,
			}
			if err := p.Sender.Send(ctx, in); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Debug("audio send failed", "err", err)
				stats.SendFailed(channel.KindAudio)
				continue
			}
			stats.AudioSent(len(block) * 2)
		}
	}
}

// FrameProducer samples the camera at FPS, downsamples and JPEG-encodes the
// frame off the ticker goroutine, and sends it. A tick that finds the
// previous frame still in flight is skipped.
type FrameProducer struct {
	Stream  VideoStream
	Sender  Sender
	FPS     float64
	Scale   float64
	Quality int
	Logger  *slog.Logger
	Stats   Stats

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// Run ticks until ctx is done, then waits for the in-flight frame.
func (p *FrameProducer) Run(ctx context.Context) error {
	fps := p.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()
	defer p.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick reports whether a frame was dispatched.
func (p *FrameProducer) tick(ctx context.Context) bool {
	stats := statsOrNop(p.Stats)
	if !p.inFlight.CompareAndSwap(false, true) {
		stats.FrameSkipped()
		return false
	}
	img, ok := p.Stream.Latest()
	if !ok {
		p.inFlight.Store(false)
		return false
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)

		data, err := EncodeFrame(img, p.Scale, p.Quality)
		if err != nil {
			logger.Debug("frame encode failed", "err", err)
			stats.SendFailed(channel.KindImage)
			return
		}
		in := channel.RealtimeInput{
			Kind:     channel.KindImage,
			Payload:  codec.EncodeBytes(data),
			MIMEType: "image/jpeg",
		}
		if err := p.Sender.Send(ctx, in); err != nil {
			if ctx.Err() == nil {
				logger.Debug("frame send failed", "err", err)
				stats.SendFailed(channel.KindImage)
			}
			return
		}
		stats.FrameSent(len(data))
	}()
	return true
}
