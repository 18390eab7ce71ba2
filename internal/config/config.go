package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the voice client.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Audio      AudioConfig      `yaml:"audio"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AgentConfig locates the remote agent. BaseURL plays the role of the page
// origin: the transcript socket and the HTTP collaborator live there, and its
// scheme and host decide whether the microphone may be used.
type AgentConfig struct {
	BaseURL          string        `yaml:"base_url"`
	SocketURL        string        `yaml:"socket_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	PlayerCommand   string `yaml:"player_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	OutputFormat    string `yaml:"output_format"`
	OutputDevice    string `yaml:"output_device"`
	WindowSize      int    `yaml:"window_size"`
}

type TranscriptConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DisplayWindow  int           `yaml:"display_window"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			BaseURL:          "http://localhost:8000",
			SocketURL:        "ws://localhost:8000",
			HandshakeTimeout: 10 * time.Second,
			RequestTimeout:   15 * time.Second,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			PlayerCommand:   "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			OutputFormat:    "pulse",
			OutputDevice:    "default",
			WindowSize:      4096,
		},
		Transcript: TranscriptConfig{
			ReconnectDelay: 3 * time.Second,
			DisplayWindow:  20,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load resolves configuration from defaults, an optional YAML file named by
// VOXLINK_CONFIG, and environment variables, in increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("VOXLINK_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.Audio.WindowSize < 256 {
		cfg.Audio.WindowSize = 4096
	}
	if cfg.Transcript.ReconnectDelay <= 0 {
		cfg.Transcript.ReconnectDelay = 3 * time.Second
	}
	if cfg.Transcript.DisplayWindow <= 0 {
		cfg.Transcript.DisplayWindow = 20
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: decode %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Agent.BaseURL = envOrDefault("VOXLINK_BASE_URL", cfg.Agent.BaseURL)
	cfg.Agent.SocketURL = envOrDefault("VOXLINK_AGENT_SOCKET_URL", cfg.Agent.SocketURL)
	cfg.Agent.HandshakeTimeout = envOrDefaultMillis("VOXLINK_HANDSHAKE_TIMEOUT_MS", cfg.Agent.HandshakeTimeout)
	cfg.Agent.RequestTimeout = envOrDefaultMillis("VOXLINK_REQUEST_TIMEOUT_MS", cfg.Agent.RequestTimeout)

	cfg.Audio.RecorderCommand = envOrDefault("VOXLINK_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.PlayerCommand = firstNonEmpty(
		os.Getenv("VOXLINK_PLAYER_COMMAND"),
		os.Getenv("VOXLINK_FFMPEG_COMMAND"),
		cfg.Audio.PlayerCommand,
	)
	cfg.Audio.InputFormat = envOrDefault("VOXLINK_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("VOXLINK_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.OutputFormat = envOrDefault("VOXLINK_AUDIO_OUTPUT_FORMAT", cfg.Audio.OutputFormat)
	cfg.Audio.OutputDevice = envOrDefault("VOXLINK_AUDIO_OUTPUT_DEVICE", cfg.Audio.OutputDevice)
	cfg.Audio.WindowSize = envOrDefaultInt("VOXLINK_AUDIO_WINDOW_SIZE", cfg.Audio.WindowSize)

	cfg.Transcript.ReconnectDelay = envOrDefaultMillis("VOXLINK_TRANSCRIPT_RECONNECT_MS", cfg.Transcript.ReconnectDelay)
	cfg.Transcript.DisplayWindow = envOrDefaultInt("VOXLINK_TRANSCRIPT_WINDOW", cfg.Transcript.DisplayWindow)

	cfg.Log.Level = envOrDefault("VOXLINK_LOG_LEVEL", cfg.Log.Level)
	cfg.Metrics.Addr = envOrDefault("VOXLINK_METRICS_ADDR", cfg.Metrics.Addr)
}

// Validate checks that cfg is coherent. It returns all problems joined.
func Validate(cfg Config) error {
	var errs []error

	if _, err := parseURL(cfg.Agent.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("agent.base_url: %w", err))
	}
	if _, err := parseURL(cfg.Agent.SocketURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("agent.socket_url: %w", err))
	}
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SessionURL is the primary socket address for a session.
func (c AgentConfig) SessionURL(sessionID string) string {
	return strings.TrimRight(c.SocketURL, "/") + "/ws/" + url.PathEscape(sessionID)
}

// TranscriptionURL is the transcript socket address, on the same host as
// BaseURL.
func (c AgentConfig) TranscriptionURL() string {
	return toWebsocket(strings.TrimRight(c.BaseURL, "/")) + "/ws/transcription"
}

// SecureForMic reports whether capture is allowed for the given origin: the
// origin is served securely, or its host is a loopback or local name.
func SecureForMic(origin string) bool {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	host := strings.ToLower(u.Hostname())
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", level)
	}
}

func parseURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%q must be an absolute %s url", raw, strings.Join(schemes, "/"))
}

func toWebsocket(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	if strings.HasPrefix(base, "http://") {
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
