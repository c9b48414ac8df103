package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegCamera reads raw RGB frames from an ffmpeg capture process.
type FFmpegCamera struct {
	Command     string
	InputFormat string
	Device      string
	// FacingDevices maps a facing hint ("user", "environment") to the
	// device to open for it. Without an entry the hint is ignored, since
	// ffmpeg inputs carry no facing information.
	FacingDevices map[string]string
	// FrameRate is the capture rate requested from the device. Frames are
	// sampled from it by the frame producer at a lower rate.
	FrameRate int
	Logger    *slog.Logger

	// startupGrace is how long ffmpeg must stay up before the mode counts
	// as accepted.
	startupGrace time.Duration
}

var _ Camera = (*FFmpegCamera)(nil)

// DefaultCameraInput returns the platform's ffmpeg capture format and device.
func DefaultCameraInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", "0"
	case "windows":
		return "dshow", "video=Integrated Camera"
	default:
		return "v4l2", "/dev/video0"
	}
}

func (c *FFmpegCamera) args(cfg VideoConfig) []string {
	format, device := DefaultCameraInput()
	if c.InputFormat != "" {
		format = c.InputFormat
	}
	if c.Device != "" {
		device = c.Device
	}
	if d := c.FacingDevices[strings.ToLower(cfg.Facing)]; d != "" {
		device = d
	}
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning", "-f", format}
	if c.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FrameRate))
	}
	if cfg.Strict {
		args = append(args, "-video_size", cfg.String())
	}
	args = append(args,
		"-i", device,
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"-",
	)
	return args
}

func (c *FFmpegCamera) Open(ctx context.Context, cfg VideoConfig) (VideoStream, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid camera size %s", cfg)
	}
	command := c.Command
	if command == "" {
		command = "ffmpeg"
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := c.startupGrace
	if grace <= 0 {
		grace = 250 * time.Millisecond
	}

	cmd := exec.CommandContext(ctx, command, c.args(cfg)...)
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &ffmpegStream{
		width:   cfg.Width,
		height:  cfg.Height,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		waitErr: make(chan error, 1),
		logger:  logger,
	}
	go s.readFrames()

	select {
	case err := <-s.waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %s", msg)
	case <-time.After(grace):
	}
	return s, nil
}

// stderrTail bounds the ffmpeg diagnostics kept for error messages.
const stderrTail = 4 << 10

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

type ffmpegStream struct {
	width, height int

	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer
	logger *slog.Logger
	// waitErr receives the result of cmd.Wait once stdout is drained.
	waitErr chan error

	mu     sync.Mutex
	latest []byte

	stopOnce sync.Once
	stopErr  error
}

// readFrames owns stdout. Wait is only called after it reaches EOF, since
// Wait closes the pipe and would cut off the final frames.
func (s *ffmpegStream) readFrames() {
	frameSize := s.width * s.height * 3
	buf := make([]byte, frameSize)
	for {
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("camera read stopped", "err", err)
				_, _ = io.Copy(io.Discard, s.stdout)
			}
			break
		}
		s.mu.Lock()
		prev := s.latest
		s.latest = buf
		s.mu.Unlock()
		if prev == nil {
			prev = make([]byte, frameSize)
		}
		buf = prev
	}
	s.waitErr <- s.cmd.Wait()
	close(s.waitErr)
}

// Latest converts the most recent RGB24 frame to an image.
func (s *ffmpegStream) Latest() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, false
	}
	return rgb24ToRGBA(s.latest, s.width, s.height), true
}

func rgb24ToRGBA(src []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(src) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = src[i]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func (s *ffmpegStream) Close() error {
	s.stopOnce.Do(func() {
		proc := s.cmd.Process
		_ = proc.Signal(os.Interrupt)
		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = proc.Kill()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}
		if s.stopErr != nil {
			s.logger.Debug("camera process exit", "err", s.stopErr, "stderr", s.stderr.String())
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
