// Package speaker provides playback devices: an oto-backed speaker that mixes
// scheduled buffers onto its own sample clock, and a silent wall-clock device
// for headless runs.
package speaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/vai-sight/pkg/sight/codec"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func sharedContext(rate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			// 100ms at 16-bit mono.
			BufferSize: 100 * time.Millisecond,
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			otoErr = fmt.Errorf("init speaker: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = rate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != rate {
		return nil, fmt.Errorf("speaker already opened at %d Hz, cannot reopen at %d Hz", otoRate, rate)
	}
	return otoCtx, nil
}

// Speaker plays scheduled buffers on the default output device.
type Speaker struct {
	*mixer
	player *oto.Player

	closeOnce sync.Once
	closeErr  error
}

var _ playback.Device = (*Speaker)(nil)

// Open starts a speaker at rate Hz. The first call fixes the process-wide
// output rate.
func Open(rate int) (*Speaker, error) {
	if rate <= 0 {
		rate = codec.OutputSampleRateHz
	}
	ctx, err := sharedContext(rate)
	if err != nil {
		return nil, err
	}
	m := newMixer(rate)
	player := ctx.NewPlayer(m)
	player.Play()
	return &Speaker{mixer: m, player: player}, nil
}

// Close stops output and fires callbacks for any voices still scheduled.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.player.Pause()
		s.closeErr = s.player.Close()
		if err := s.mixer.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
