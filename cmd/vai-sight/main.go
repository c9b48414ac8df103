package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vango-go/vai-sight/pkg/sight/capture"
	"github.com/vango-go/vai-sight/pkg/sight/channel"
	"github.com/vango-go/vai-sight/pkg/sight/channel/gemini"
	"github.com/vango-go/vai-sight/pkg/sight/channel/wire"
	"github.com/vango-go/vai-sight/pkg/sight/config"
	"github.com/vango-go/vai-sight/pkg/sight/metrics"
	"github.com/vango-go/vai-sight/pkg/sight/playback"
	"github.com/vango-go/vai-sight/pkg/sight/session"
	"github.com/vango-go/vai-sight/pkg/sight/speaker"
	"github.com/vango-go/vai-sight/pkg/sight/statusfeed"
)

type options struct {
	configPath string
	debug      bool
	noStart    bool

	// Overrides applied only when the flag is set explicitly.
	model        string
	voice        string
	transport    string
	statusAddr   string
	cameraDevice string
	cameraFormat string
	promptFile   string
	fps          float64
	history      int
	noSpeaker    bool
}

type sightDeps struct {
	loadConfig   func(path string) (config.Config, error)
	microphone   func(*slog.Logger) capture.Microphone
	camera       func(config.Config, *slog.Logger) capture.Camera
	newDevice    func(config.Config) session.DeviceFactory
	connector    func(config.Config, *slog.Logger) (channel.Connector, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultSightDeps() sightDeps {
	return sightDeps{
		loadConfig: config.Load,
		microphone: func(logger *slog.Logger) capture.Microphone {
			return &capture.MalgoMicrophone{Logger: logger}
		},
		camera: func(cfg config.Config, logger *slog.Logger) capture.Camera {
			return &capture.FFmpegCamera{
				Command:       cfg.CameraCommand,
				InputFormat:   cfg.CameraFormat,
				Device:        cfg.CameraDevice,
				FacingDevices: cfg.CameraFacingDevices,
				FrameRate:     cfg.CameraFrameRate,
				Logger:        logger,
			}
		},
		newDevice: deviceFactory,
		connector: buildConnector,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func parseOptions(args []string, stderr io.Writer) (options, map[string]bool, error) {
	var opt options
	flags := flag.NewFlagSet("vai-sight", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opt.configPath, "config", "", "Path to config file (yaml/json); also reads VAI_SIGHT_CONFIG")
	flags.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opt.noStart, "no-start", false, "Do not start a session at launch; wait for POST /v1/session/start")
	flags.StringVar(&opt.model, "model", "", "Live model name")
	flags.StringVar(&opt.voice, "voice", "", "Prebuilt voice name")
	flags.StringVar(&opt.transport, "transport", "", "Live transport: genai or wire")
	flags.StringVar(&opt.statusAddr, "status-addr", "", "Status feed listen address (empty disables)")
	flags.StringVar(&opt.cameraDevice, "camera-device", "", "ffmpeg camera input device")
	flags.StringVar(&opt.cameraFormat, "camera-format", "", "ffmpeg camera input format (v4l2, avfoundation, dshow)")
	flags.StringVar(&opt.promptFile, "system-instruction-file", "", "Read the system instruction from this file")
	flags.Float64Var(&opt.fps, "fps", 0, "Camera frames sent per second")
	flags.IntVar(&opt.history, "history", 0, "Committed transcript turns to keep")
	flags.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not open an audio output; simulate playback on the wall clock")
	if err := flags.Parse(args); err != nil {
		return options{}, nil, err
	}
	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return opt, set, nil
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(cfg *config.Config, opt options, set map[string]bool) error {
	if set["model"] {
		cfg.Model = opt.model
	}
	if set["voice"] {
		cfg.Voice = opt.voice
	}
	if set["transport"] {
		cfg.Transport = strings.ToLower(strings.TrimSpace(opt.transport))
	}
	if set["status-addr"] {
		cfg.StatusAddr = strings.TrimSpace(opt.statusAddr)
	}
	if set["camera-device"] {
		cfg.CameraDevice = opt.cameraDevice
	}
	if set["camera-format"] {
		cfg.CameraFormat = opt.cameraFormat
	}
	if set["system-instruction-file"] {
		cfg.SystemInstructionFile = opt.promptFile
	}
	if set["fps"] {
		cfg.FrameFPS = opt.fps
	}
	if set["history"] {
		cfg.HistoryLimit = opt.history
	}
	if set["no-speaker"] {
		cfg.NoSpeaker = opt.noSpeaker
	}
	return cfg.Validate()
}

func buildConnector(cfg config.Config, logger *slog.Logger) (channel.Connector, error) {
	switch cfg.Transport {
	case config.TransportGenAI:
		return &gemini.Connector{
			APIKey:      config.APIKey,
			Logger:      logger,
			EventBuffer: cfg.EventBuffer,
		}, nil
	case config.TransportWire:
		return &wire.Connector{
			Endpoint:     cfg.WireEndpoint,
			APIKey:       config.APIKey,
			Logger:       logger,
			KeyInHeader:  cfg.WireKeyInHeader,
			PingInterval: time.Duration(cfg.WSPingInterval),
			WriteTimeout: time.Duration(cfg.WSWriteTimeout),
			SetupTimeout: time.Duration(cfg.SetupTimeout),
			EventBuffer:  cfg.EventBuffer,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func deviceFactory(cfg config.Config) session.DeviceFactory {
	if cfg.NoSpeaker {
		return func(int) (playback.Device, error) {
			return speaker.NewSilent(nil), nil
		}
	}
	return func(rate int) (playback.Device, error) {
		spk, err := speaker.Open(rate)
		if err != nil {
			return nil, err
		}
		return spk, nil
	}
}

func sessionConfig(cfg config.Config, instruction string) session.Config {
	media := capture.DefaultMediaConfig()
	media.Audio.BlockSize = cfg.MicBlockSize
	media.Preferred.Width, media.Preferred.Height = cfg.PreferredWidth, cfg.PreferredHeight
	media.Preferred.Facing = cfg.Facing
	media.Fallback.Width, media.Fallback.Height = cfg.FallbackWidth, cfg.FallbackHeight
	media.Fallback.Facing = cfg.Facing

	return session.Config{
		Channel: channel.Config{
			Model:             cfg.Model,
			SystemInstruction: instruction,
			Voice:             cfg.Voice,
		},
		Media:            media,
		FrameFPS:         cfg.FrameFPS,
		FrameScale:       cfg.FrameScale,
		JPEGQuality:      cfg.JPEGQuality,
		OutputSampleRate: cfg.OutputSampleRate,
		HistoryLimit:     cfg.HistoryLimit,
	}
}

// endWatcher signals when a connected session reaches a terminal status.
type endWatcher struct {
	session.BaseObserver
	ended chan session.Snapshot
}

func newEndWatcher() *endWatcher {
	return &endWatcher{ended: make(chan session.Snapshot, 1)}
}

func (w *endWatcher) StatusChanged(snap session.Snapshot) {
	if snap.Status != session.StatusDisconnected && snap.Status != session.StatusError {
		return
	}
	select {
	case w.ended <- snap:
	default:
	}
}

func runSight(ctx context.Context, logger *slog.Logger, opt options, set map[string]bool, deps sightDeps) error {
	cfg, err := deps.loadConfig(opt.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(&cfg, opt, set); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	instruction, err := cfg.ResolveSystemInstruction()
	if err != nil {
		return err
	}

	reporter, flush := setupSentry(cfg, logger)
	defer flush()

	connector, err := deps.connector(cfg, logger)
	if err != nil {
		return err
	}
	m := metrics.New("")
	ctrl, err := session.New(session.Dependencies{
		Config:     sessionConfig(cfg, instruction),
		Connector:  connector,
		Microphone: deps.microphone(logger),
		Camera:     deps.camera(cfg, logger),
		NewDevice:  deps.newDevice(cfg),
		Recorder:   m,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	ctrl.Observe(session.LogObserver{Logger: logger})
	if reporter != nil {
		ctrl.Observe(reporter)
	}
	watcher := newEndWatcher()
	ctrl.Observe(watcher)
	defer func() { _ = ctrl.Stop() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	if cfg.StatusAddr != "" {
		hub := statusfeed.NewHub(logger)
		ctrl.Observe(hub)
		feed := statusfeed.New(statusfeed.Options{
			Controller:   ctrl,
			Hub:          hub,
			Metrics:      m.Handler(),
			Logger:       logger,
			PingInterval: time.Duration(cfg.WSPingInterval),
			WriteTimeout: time.Duration(cfg.WSWriteTimeout),
		})
		go func() {
			serveErr <- feed.ListenAndServe(ctx, cfg.StatusAddr, time.Duration(cfg.ShutdownGracePeriod))
		}()
	}

	if !opt.noStart {
		logger.Info("starting session", "model", cfg.Model, "transport", cfg.Transport, "no_speaker", cfg.NoSpeaker)
		if err := ctrl.Start(ctx); err != nil {
			if cfg.StatusAddr == "" {
				return fmt.Errorf("start session: %w", err)
			}
			logger.Error("session start failed; waiting for a start request", "err", err)
		}
	} else if cfg.StatusAddr == "" {
		return errors.New("--no-start requires a status feed address")
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	// Without a status feed there is nothing to restart the session, so the
	// process ends with it.
	var ended <-chan session.Snapshot
	if cfg.StatusAddr == "" {
		ended = watcher.ended
	}

	feedDone := false
	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("status feed: %w", err)
		}
		feedDone = true
	case snap := <-ended:
		if snap.Status == session.StatusError {
			return fmt.Errorf("session ended: %s", snap.Error)
		}
		logger.Info("session ended")
	}

	_ = ctrl.Stop()
	cancel()
	if cfg.StatusAddr != "" && !feedDone {
		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("status feed: %w", err)
			}
		case <-time.After(time.Duration(cfg.ShutdownGracePeriod)):
			logger.Warn("status feed did not stop within grace period")
		}
	}
	return nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps sightDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	opt, set, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "vai-sight: %v\n", err)
		return 1
	}
	if err := runSight(ctx, logger, opt, set, deps); err != nil {
		fmt.Fprintf(stderr, "vai-sight: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultSightDeps()))
}
