package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoMicrophone captures the default input device through miniaudio.
type MalgoMicrophone struct {
	Logger *slog.Logger
	// Queue is the number of blocks buffered ahead of the consumer.
	Queue int
}

var _ Microphone = (*MalgoMicrophone)(nil)

func (m *MalgoMicrophone) Open(ctx context.Context, cfg AudioConfig) (AudioStream, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	buf := newBlockBuffer(cfg.BlockSize, m.Queue)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			buf.push(in)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	s := &malgoStream{blockBuffer: buf, device: device, mctx: mctx, logger: logger}
	s.stopWatch = context.AfterFunc(ctx, func() { _ = s.Close() })
	return s, nil
}

type malgoStream struct {
	*blockBuffer
	device *malgo.Device
	mctx   *malgo.AllocatedContext
	logger *slog.Logger

	stopWatch func() bool
	closeOnce sync.Once
	closeErr  error
}

func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
		s.closeErr = s.device.Stop()
		s.device.Uninit()
		if err := s.mctx.Uninit(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.mctx.Free()
		s.blockBuffer.close()
		if n := s.Dropped(); n > 0 {
			s.logger.Debug("microphone blocks dropped", "count", n)
		}
	})
	return s.closeErr
}
