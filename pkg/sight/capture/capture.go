// Package capture acquires the microphone and camera and turns their output
// into realtime inputs for the live channel.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/vango-go/vai-sight/pkg/sight"
)

const (
	DefaultBlockSize       = 4096
	DefaultFPS             = 2.0
	DefaultFrameScale      = 0.5
	DefaultJPEGQuality     = 60
	DefaultPreferredWidth  = 1280
	DefaultPreferredHeight = 720
	DefaultFallbackWidth   = 640
	DefaultFallbackHeight  = 480
)

// AudioConfig requests mono PCM16 capture.
type AudioConfig struct {
	SampleRate int
	BlockSize  int
}

// VideoConfig requests a camera mode.
type VideoConfig struct {
	Width  int
	Height int
	// Strict asks the device for exactly Width x Height and fails if it
	// cannot comply. Without it the device default is scaled to the size.
	Strict bool
	// Facing is a hint ("user", "environment"). FFmpegCamera resolves it
	// through FacingDevices.
	Facing string
}

func (v VideoConfig) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// AudioStream delivers fixed-size sample blocks until closed.
type AudioStream interface {
	Blocks() <-chan []int16
	Close() error
}

// VideoStream exposes the most recent camera frame.
type VideoStream interface {
	Latest() (image.Image, bool)
	Close() error
}

type Microphone interface {
	Open(ctx context.Context, cfg AudioConfig) (AudioStream, error)
}

type Camera interface {
	Open(ctx context.Context, cfg VideoConfig) (VideoStream, error)
}

// MediaConfig is the combined request made by Acquire.
type MediaConfig struct {
	Audio     AudioConfig
	Preferred VideoConfig
	Fallback  VideoConfig
}

// DefaultMediaConfig returns 16 kHz audio in 4096-sample blocks and a 720p
// camera request with a 640x480 fallback.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		Audio: AudioConfig{SampleRate: 16000, BlockSize: DefaultBlockSize},
		Preferred: VideoConfig{
			Width: DefaultPreferredWidth, Height: DefaultPreferredHeight,
			Strict: true, Facing: "environment",
		},
		Fallback: VideoConfig{Width: DefaultFallbackWidth, Height: DefaultFallbackHeight},
	}
}

// Media is an acquired microphone and camera pair.
type Media struct {
	Audio AudioStream
	Video VideoStream
	// Degraded is set when the camera fell back from the preferred mode.
	Degraded bool

	closeOnce sync.Once
	closeErr  error
}

// Close releases both devices. Safe to call more than once.
func (m *Media) Close() error {
	if m == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		var errs []error
		if m.Audio != nil {
			errs = append(errs, m.Audio.Close())
		}
		if m.Video != nil {
			errs = append(errs, m.Video.Close())
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// Acquire opens the microphone and the camera. A camera that rejects the
// preferred mode is reopened once with the fallback mode. Failure to open
// the microphone, or the camera in either mode, is a permission error.
func Acquire(ctx context.Context, mic Microphone, cam Camera, cfg MediaConfig, logger *slog.Logger) (*Media, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.BlockSize <= 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}

	audio, err := mic.Open(ctx, cfg.Audio)
	if err != nil {
		return nil, sight.NewPermissionError("microphone unavailable", err)
	}

	degraded := false
	video, err := cam.Open(ctx, cfg.Preferred)
	if err != nil {
		capErr := &sight.Error{Kind: sight.KindCapability, Message: "camera rejected " + cfg.Preferred.String(), Err: err}
		logger.Warn("camera degraded to default constraints", "err", capErr, "fallback", cfg.Fallback.String())
		degraded = true
		video, err = cam.Open(ctx, cfg.Fallback)
		if err != nil {
			_ = audio.Close()
			return nil, sight.NewPermissionError("camera unavailable", err)
		}
	}
	return &Media{Audio: audio, Video: video, Degraded: degraded}, nil
}
