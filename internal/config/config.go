package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`        // HTTP server settings
	Control       ControlConfig       `toml:"control"`       // Local control socket settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Storage       StorageConfig       `toml:"storage"`       // Transcript journal settings
	Audio         AudioConfig         `toml:"audio"`         // Microphone capture settings
	VAD           VADConfig           `toml:"vad"`           // Energy classification thresholds
	Segmenter     SegmenterConfig     `toml:"segmenter"`     // Segment sealing and watchdog settings
	Transcription TranscriptionConfig `toml:"transcription"` // Transcription backend settings
	Surface       SurfaceConfig       `toml:"surface"`       // Input surface (text sink) settings
	Metrics       MetricsConfig       `toml:"metrics"`       // Prometheus metrics settings

	path string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Enabled          bool   `toml:"enabled"`               // Serve the HTTP API and websocket feed
	Port             int    `toml:"port"`                  // HTTP port for the API
	Host             string `toml:"host"`                  // Host address to bind to (127.0.0.1 for localhost only)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for websockets)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// ControlConfig contains the local control socket settings used by hotkey bindings
type ControlConfig struct {
	SocketPath string `toml:"socket_path"` // Unix socket path for toggle/status commands
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains transcript journal configuration
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`     // Record sessions and transcripts to SQLite
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// AudioConfig contains microphone capture settings
type AudioConfig struct {
	Backend           string `toml:"backend"`             // Capture backend: "ffmpeg" or "portaudio" (requires the portaudio build tag)
	FFmpegPath        string `toml:"ffmpeg_path"`         // Path to the ffmpeg binary
	InputFormat       string `toml:"input_format"`        // ffmpeg input device format (e.g., "pulse", "alsa", "avfoundation", "dshow")
	Device            string `toml:"device"`              // Input device name passed to ffmpeg -i (e.g., "default")
	SampleRate        int    `toml:"sample_rate"`         // Capture sample rate in Hz
	Channels          int    `toml:"channels"`            // Number of capture channels
	AcquireTimeoutSec int    `toml:"acquire_timeout_sec"` // Maximum time to wait for the device to deliver its first frames
}

// VADConfig contains the energy classification thresholds
type VADConfig struct {
	SpeechThreshold  float64 `toml:"speech_threshold"`  // RMS above which a window is speech (reference 0.05)
	SilenceThreshold float64 `toml:"silence_threshold"` // RMS above which a window is ambient rather than silence (reference 0.02)
	PollIntervalMs   int     `toml:"poll_interval_ms"`  // Energy polling cadence in milliseconds
	WindowMs         int     `toml:"window_ms"`         // Length of the analysed window in milliseconds
}

// SegmenterConfig contains segment sealing and watchdog settings
type SegmenterConfig struct {
	SilenceThresholdMs      int `toml:"silence_threshold_ms"`       // Silence duration that seals a segment
	MinSegmentMs            int `toml:"min_segment_ms"`             // Minimum segment duration before sealing is allowed
	MinSegmentBytes         int `toml:"min_segment_bytes"`          // Minimum encoded payload size worth submitting
	TotalSilenceTimeoutSecs int `toml:"total_silence_timeout_secs"` // Auto-stop after this much silence with no speech
	ContinuousWarningSecs   int `toml:"continuous_warning_secs"`    // One-time advisory after this much recording
}

// TranscriptionConfig contains settings for the transcription backend
type TranscriptionConfig struct {
	Backend           string `toml:"backend"`             // Backend: "openai", "gemini", or "whispercpp" (requires the whispercpp build tag)
	APIKey            string `toml:"api_key"`             // API key for cloud backends (falls back to HANDSFREE_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY)
	BaseURL           string `toml:"base_url"`            // Optional OpenAI-compatible base URL (e.g., for proxies or local servers)
	Model             string `toml:"model"`               // Model name (e.g., "whisper-1", "gemini-2.5-flash")
	Language          string `toml:"language"`            // ISO-639-1 language code passed on every call (hot reloadable)
	Prompt            string `toml:"prompt"`              // Domain hint that suppresses hallucinations on near-silent input (hot reloadable)
	TimeoutSecs       int    `toml:"timeout_seconds"`     // Per-request timeout
	RequestsPerMinute int    `toml:"requests_per_minute"` // Client-side pacing (0 = unlimited)
	WhisperModelPath  string `toml:"whisper_model_path"`  // Path to a ggml model for the whispercpp backend
	WhisperThreads    int    `toml:"whisper_threads"`     // Inference threads for the whispercpp backend
}

// SurfaceConfig controls how transcripts reach the user's input surface
type SurfaceConfig struct {
	Enabled       bool   `toml:"enabled"`        // Deliver transcripts to the input surface (hot reloadable)
	Mode          string `toml:"mode"`           // "paste" (clipboard + keystroke), "stdout", or "none"
	SubmitOnStop  bool   `toml:"submit_on_stop"` // Press Enter after the last transcript of a user-stopped session
	ShowIndicator bool   `toml:"show_indicator"` // Show desktop notifications when listening starts and stops (hot reloadable)
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"` // Expose metrics on the HTTP server
	Path    string `toml:"path"`    // Metrics endpoint path
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.path = path
	config.applyEnv()
	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Default returns a configuration with every default applied, used when no file exists
func Default() *Config {
	c := &Config{}
	c.Surface.Enabled = true
	c.Storage.Enabled = true
	c.Server.Enabled = true
	c.Metrics.Enabled = true
	c.applyEnv()
	_ = c.Validate()
	return c
}

// Path returns the file the configuration was loaded from, if any
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyEnv() {
	if c.Transcription.APIKey != "" {
		return
	}
	keys := []string{"HANDSFREE_API_KEY"}
	switch c.Transcription.Backend {
	case "gemini":
		keys = append(keys, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	default:
		keys = append(keys, "OPENAI_API_KEY")
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			c.Transcription.APIKey = v
			return
		}
	}
}

// Validate applies defaults and validates the configuration
func (c *Config) Validate() error {
	// Server
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8765
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}

	if c.Control.SocketPath == "" {
		c.Control.SocketPath = DefaultSocketPath()
	}

	// Logging
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/handsfree.db"
	}

	// Audio
	if c.Audio.Backend == "" {
		c.Audio.Backend = "ffmpeg"
	}
	if c.Audio.Backend != "ffmpeg" && c.Audio.Backend != "portaudio" {
		return fmt.Errorf("invalid audio backend: %s (must be 'ffmpeg' or 'portaudio')", c.Audio.Backend)
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.InputFormat == "" {
		c.Audio.InputFormat = "pulse"
	}
	if c.Audio.Device == "" {
		c.Audio.Device = "default"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 48000 {
		return fmt.Errorf("audio sample_rate must be between 8000 and 48000: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio channels must be 1 or 2: %d", c.Audio.Channels)
	}
	if c.Audio.AcquireTimeoutSec <= 0 {
		c.Audio.AcquireTimeoutSec = 10
	}

	// VAD
	if c.VAD.SpeechThreshold == 0 {
		c.VAD.SpeechThreshold = 0.05
	}
	if c.VAD.SilenceThreshold == 0 {
		c.VAD.SilenceThreshold = 0.02
	}
	if c.VAD.SilenceThreshold < 0 || c.VAD.SpeechThreshold > 1 || c.VAD.SilenceThreshold >= c.VAD.SpeechThreshold {
		return fmt.Errorf("vad thresholds must satisfy 0 <= silence_threshold < speech_threshold <= 1: %f, %f",
			c.VAD.SilenceThreshold, c.VAD.SpeechThreshold)
	}
	if c.VAD.PollIntervalMs <= 0 {
		c.VAD.PollIntervalMs = 100
	}
	if c.VAD.WindowMs <= 0 {
		c.VAD.WindowMs = c.VAD.PollIntervalMs
	}

	// Segmenter
	if c.Segmenter.SilenceThresholdMs <= 0 {
		c.Segmenter.SilenceThresholdMs = 1500
	}
	if c.Segmenter.MinSegmentMs <= 0 {
		c.Segmenter.MinSegmentMs = 1000
	}
	if c.Segmenter.MinSegmentBytes <= 0 {
		c.Segmenter.MinSegmentBytes = 1024
	}
	if c.Segmenter.TotalSilenceTimeoutSecs <= 0 {
		c.Segmenter.TotalSilenceTimeoutSecs = 300
	}
	if c.Segmenter.ContinuousWarningSecs <= 0 {
		c.Segmenter.ContinuousWarningSecs = 600
	}

	// Transcription
	if c.Transcription.Backend == "" {
		c.Transcription.Backend = "openai"
	}
	switch c.Transcription.Backend {
	case "openai":
		if c.Transcription.Model == "" {
			c.Transcription.Model = "whisper-1"
		}
	case "gemini":
		if c.Transcription.Model == "" {
			c.Transcription.Model = "gemini-2.5-flash"
		}
	case "whispercpp":
		if c.Transcription.WhisperThreads <= 0 {
			c.Transcription.WhisperThreads = 4
		}
	default:
		return fmt.Errorf("invalid transcription backend: %s (must be 'openai', 'gemini', or 'whispercpp')", c.Transcription.Backend)
	}
	if c.Transcription.Language == "" {
		c.Transcription.Language = "en"
	}
	if c.Transcription.TimeoutSecs <= 0 {
		c.Transcription.TimeoutSecs = 30
	}
	if c.Transcription.RequestsPerMinute < 0 {
		return fmt.Errorf("transcription requests_per_minute must be >= 0: %d", c.Transcription.RequestsPerMinute)
	}

	// Surface
	if c.Surface.Mode == "" {
		c.Surface.Mode = "paste"
	}
	if c.Surface.Mode != "paste" && c.Surface.Mode != "stdout" && c.Surface.Mode != "none" {
		return fmt.Errorf("invalid surface mode: %s (must be 'paste', 'stdout', or 'none')", c.Surface.Mode)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// PollInterval returns the energy polling cadence
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.VAD.PollIntervalMs) * time.Millisecond
}

// DefaultSocketPath returns the control socket location under the user's runtime directory
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/handsfree.sock"
	}
	return os.TempDir() + "/handsfree.sock"
}
