// Package config loads client settings from defaults, an optional YAML or
// JSON file and VAI_SIGHT_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-sight/pkg/sight"
)

const (
	TransportGenAI = "genai"
	TransportWire  = "wire"
)

const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

const DefaultSystemInstruction = `You are a sight assistant guiding a person through a live camera feed.
Describe only what matters for finding the object the user asks about.
While you search, say that you are scanning or looking. If you lose it, say you lost sight of it.
When you see it, say clearly that you found it. Then guide the user with short directions:
left, right, ahead, step, move. Keep every reply brief.`

type Config struct {
	Model                 string `yaml:"model" json:"model"`
	Voice                 string `yaml:"voice" json:"voice"`
	SystemInstruction     string `yaml:"system_instruction" json:"system_instruction"`
	SystemInstructionFile string `yaml:"system_instruction_file" json:"system_instruction_file"`

	// Transport selects the channel implementation: "genai" or "wire".
	Transport       string `yaml:"transport" json:"transport"`
	WireEndpoint    string `yaml:"wire_endpoint" json:"wire_endpoint"`
	WireKeyInHeader bool   `yaml:"wire_key_in_header" json:"wire_key_in_header"`

	MicBlockSize int     `yaml:"mic_block_size" json:"mic_block_size"`
	FrameFPS     float64 `yaml:"frame_fps" json:"frame_fps"`
	FrameScale   float64 `yaml:"frame_scale" json:"frame_scale"`
	JPEGQuality  int     `yaml:"jpeg_quality" json:"jpeg_quality"`

	CameraCommand   string `yaml:"camera_command" json:"camera_command"`
	CameraFormat    string `yaml:"camera_format" json:"camera_format"`
	CameraDevice    string `yaml:"camera_device" json:"camera_device"`
	CameraFrameRate int    `yaml:"camera_frame_rate" json:"camera_frame_rate"`
	PreferredWidth  int    `yaml:"preferred_width" json:"preferred_width"`
	PreferredHeight int    `yaml:"preferred_height" json:"preferred_height"`
	FallbackWidth   int    `yaml:"fallback_width" json:"fallback_width"`
	FallbackHeight  int    `yaml:"fallback_height" json:"fallback_height"`
	Facing          string `yaml:"facing" json:"facing"`
	// CameraFacingDevices maps a facing hint to the camera device opened for it.
	CameraFacingDevices map[string]string `yaml:"camera_facing_devices" json:"camera_facing_devices"`

	HistoryLimit     int  `yaml:"history_limit" json:"history_limit"`
	OutputSampleRate int  `yaml:"output_sample_rate" json:"output_sample_rate"`
	NoSpeaker        bool `yaml:"no_speaker" json:"no_speaker"`
	EventBuffer      int  `yaml:"event_buffer" json:"event_buffer"`

	// StatusAddr is the listen address of the local status feed; empty
	// disables it.
	StatusAddr string `yaml:"status_addr" json:"status_addr"`

	SentryDSN         string `yaml:"sentry_dsn" json:"sentry_dsn"`
	SentryEnvironment string `yaml:"sentry_environment" json:"sentry_environment"`

	WSPingInterval      Duration `yaml:"ws_ping_interval" json:"ws_ping_interval"`
	WSWriteTimeout      Duration `yaml:"ws_write_timeout" json:"ws_write_timeout"`
	SetupTimeout        Duration `yaml:"setup_timeout" json:"setup_timeout"`
	ShutdownGracePeriod Duration `yaml:"shutdown_grace_period" json:"shutdown_grace_period"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Model:             DefaultModel,
		Voice:             "Puck",
		SystemInstruction: DefaultSystemInstruction,
		Transport:         TransportGenAI,

		MicBlockSize: 4096,
		FrameFPS:     2,
		FrameScale:   0.5,
		JPEGQuality:  60,

		CameraCommand:   "ffmpeg",
		CameraFrameRate: 15,
		PreferredWidth:  1280,
		PreferredHeight: 720,
		FallbackWidth:   640,
		FallbackHeight:  480,
		Facing:          "environment",

		HistoryLimit:     20,
		OutputSampleRate: 24000,
		EventBuffer:      64,

		StatusAddr: "127.0.0.1:8765",

		WSPingInterval:      Duration(20 * time.Second),
		WSWriteTimeout:      Duration(5 * time.Second),
		SetupTimeout:        Duration(10 * time.Second),
		ShutdownGracePeriod: Duration(5 * time.Second),
	}
}

// LoadFromEnv loads defaults, the file named by VAI_SIGHT_CONFIG if any, and
// environment overrides.
func LoadFromEnv() (Config, error) {
	return Load("")
}

// Load is LoadFromEnv with an explicit config file path. An empty path falls
// back to VAI_SIGHT_CONFIG.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("VAI_SIGHT_CONFIG"))
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Model = envOr("VAI_SIGHT_MODEL", cfg.Model)
	cfg.Voice = envOr("VAI_SIGHT_VOICE", cfg.Voice)
	cfg.SystemInstruction = envOr("VAI_SIGHT_SYSTEM_INSTRUCTION", cfg.SystemInstruction)
	cfg.SystemInstructionFile = envOr("VAI_SIGHT_SYSTEM_INSTRUCTION_FILE", cfg.SystemInstructionFile)

	cfg.Transport = strings.ToLower(envOr("VAI_SIGHT_TRANSPORT", cfg.Transport))
	cfg.WireEndpoint = envOr("VAI_SIGHT_WIRE_ENDPOINT", cfg.WireEndpoint)
	cfg.WireKeyInHeader = envBoolOr("VAI_SIGHT_WIRE_KEY_IN_HEADER", cfg.WireKeyInHeader)

	cfg.MicBlockSize = envIntOr("VAI_SIGHT_MIC_BLOCK_SIZE", cfg.MicBlockSize)
	cfg.FrameFPS = envFloat64Or("VAI_SIGHT_FRAME_FPS", cfg.FrameFPS)
	cfg.FrameScale = envFloat64Or("VAI_SIGHT_FRAME_SCALE", cfg.FrameScale)
	cfg.JPEGQuality = envIntOr("VAI_SIGHT_JPEG_QUALITY", cfg.JPEGQuality)

	cfg.CameraCommand = envOr("VAI_SIGHT_CAMERA_COMMAND", cfg.CameraCommand)
	cfg.CameraFormat = envOr("VAI_SIGHT_CAMERA_FORMAT", cfg.CameraFormat)
	cfg.CameraDevice = envOr("VAI_SIGHT_CAMERA_DEVICE", cfg.CameraDevice)
	cfg.CameraFrameRate = envIntOr("VAI_SIGHT_CAMERA_FRAME_RATE", cfg.CameraFrameRate)
	if w, h, ok := envSizeOr("VAI_SIGHT_CAMERA_PREFERRED_SIZE"); ok {
		cfg.PreferredWidth, cfg.PreferredHeight = w, h
	}
	if w, h, ok := envSizeOr("VAI_SIGHT_CAMERA_FALLBACK_SIZE"); ok {
		cfg.FallbackWidth, cfg.FallbackHeight = w, h
	}
	cfg.Facing = envOr("VAI_SIGHT_CAMERA_FACING", cfg.Facing)
	if raw := strings.TrimSpace(os.Getenv("VAI_SIGHT_CAMERA_FACING_DEVICES")); raw != "" {
		cfg.CameraFacingDevices = ParseFacingDevices(raw)
	}

	cfg.HistoryLimit = envIntOr("VAI_SIGHT_HISTORY_LIMIT", cfg.HistoryLimit)
	cfg.OutputSampleRate = envIntOr("VAI_SIGHT_OUTPUT_SAMPLE_RATE", cfg.OutputSampleRate)
	cfg.NoSpeaker = envBoolOr("VAI_SIGHT_NO_SPEAKER", cfg.NoSpeaker)
	cfg.EventBuffer = envIntOr("VAI_SIGHT_EVENT_BUFFER", cfg.EventBuffer)

	if v, ok := os.LookupEnv("VAI_SIGHT_STATUS_ADDR"); ok {
		cfg.StatusAddr = strings.TrimSpace(v)
	}

	cfg.SentryDSN = envOr("SENTRY_DSN", cfg.SentryDSN)
	cfg.SentryEnvironment = envOr("SENTRY_ENVIRONMENT", cfg.SentryEnvironment)

	cfg.WSPingInterval = Duration(envDurationOr("VAI_SIGHT_WS_PING_INTERVAL", time.Duration(cfg.WSPingInterval)))
	cfg.WSWriteTimeout = Duration(envDurationOr("VAI_SIGHT_WS_WRITE_TIMEOUT", time.Duration(cfg.WSWriteTimeout)))
	cfg.SetupTimeout = Duration(envDurationOr("VAI_SIGHT_SETUP_TIMEOUT", time.Duration(cfg.SetupTimeout)))
	cfg.ShutdownGracePeriod = Duration(envDurationOr("VAI_SIGHT_SHUTDOWN_GRACE_PERIOD", time.Duration(cfg.ShutdownGracePeriod)))
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("VAI_SIGHT_MODEL must not be empty")
	}
	switch c.Transport {
	case TransportGenAI, TransportWire:
	default:
		return fmt.Errorf("VAI_SIGHT_TRANSPORT must be %q or %q", TransportGenAI, TransportWire)
	}
	if c.MicBlockSize <= 0 {
		return fmt.Errorf("VAI_SIGHT_MIC_BLOCK_SIZE must be > 0")
	}
	if c.FrameFPS <= 0 || c.FrameFPS > 30 {
		return fmt.Errorf("VAI_SIGHT_FRAME_FPS must be in (0, 30]")
	}
	if c.FrameScale <= 0 || c.FrameScale > 1 {
		return fmt.Errorf("VAI_SIGHT_FRAME_SCALE must be in (0, 1]")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("VAI_SIGHT_JPEG_QUALITY must be in [1, 100]")
	}
	if c.PreferredWidth <= 0 || c.PreferredHeight <= 0 {
		return fmt.Errorf("VAI_SIGHT_CAMERA_PREFERRED_SIZE must be WxH with positive dimensions")
	}
	if c.FallbackWidth <= 0 || c.FallbackHeight <= 0 {
		return fmt.Errorf("VAI_SIGHT_CAMERA_FALLBACK_SIZE must be WxH with positive dimensions")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("VAI_SIGHT_HISTORY_LIMIT must be > 0")
	}
	if c.OutputSampleRate <= 0 {
		return fmt.Errorf("VAI_SIGHT_OUTPUT_SAMPLE_RATE must be > 0")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("VAI_SIGHT_EVENT_BUFFER must be > 0")
	}
	if c.WSPingInterval <= 0 || c.WSWriteTimeout <= 0 || c.SetupTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be > 0")
	}
	return nil
}

// ResolveSystemInstruction returns the instruction text, reading
// SystemInstructionFile when set.
func (c Config) ResolveSystemInstruction() (string, error) {
	if c.SystemInstructionFile == "" {
		return strings.TrimSpace(c.SystemInstruction), nil
	}
	data, err := os.ReadFile(c.SystemInstructionFile)
	if err != nil {
		return "", fmt.Errorf("read system instruction: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// APIKey reads the model credential. It is called at session start so a key
// exported after launch is picked up.
func APIKey() (string, error) {
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", sight.NewConfigError("GEMINI_API_KEY (or GOOGLE_API_KEY) is not set")
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// envSizeOr parses "WxH".
func envSizeOr(key string) (int, int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, 0, false
	}
	return ParseSize(raw)
}

// ParseSize parses "WxH" into positive dimensions.
func ParseSize(raw string) (int, int, bool) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return 0, 0, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// ParseFacingDevices parses "facing=device" pairs separated by commas.
// Malformed pairs are skipped.
func ParseFacingDevices(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		facing, device, ok := strings.Cut(pair, "=")
		facing, device = strings.ToLower(strings.TrimSpace(facing)), strings.TrimSpace(device)
		if !ok || facing == "" || device == "" {
			continue
		}
		out[facing] = device
	}
	return out
}
