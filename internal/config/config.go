package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration
const (
	EnvServiceURL   = "SCRIBE_SERVICE_URL"
	EnvLogLevel     = "SCRIBE_LOG_LEVEL"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOpenAIURL    = "OPENAI_BASE_URL"
	EnvServerPort   = "SCRIBE_SERVER_PORT"
)

// Config represents the complete application configuration
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Capture  CaptureConfig  `yaml:"capture"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	ASR      ASRConfig      `yaml:"asr"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig describes how the client reaches the transcription service
type ServiceConfig struct {
	BaseURL        string `yaml:"base_url"`
	Timeout        int    `yaml:"timeout"`         // seconds
	StartRetries   int    `yaml:"start_retries"`   // session start only
	HealthInterval int    `yaml:"health_interval"` // seconds
}

// CaptureConfig contains capture source parameters
type CaptureConfig struct {
	Source           string  `yaml:"source"` // "file" or "websocket"
	File             string  `yaml:"file"`
	ListenAddress    string  `yaml:"listen_address"`
	SegmentInterval  float64 `yaml:"segment_interval"` // seconds
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	EchoCancellation bool    `yaml:"echo_cancellation"`
	NoiseSuppression bool    `yaml:"noise_suppression"`
	Realtime         bool    `yaml:"realtime"`
	StartTimeout     int     `yaml:"start_timeout"` // seconds
}

// PipelineConfig contains streaming transcription pipeline parameters
type PipelineConfig struct {
	MinSegmentBytes int    `yaml:"min_segment_bytes"`
	Container       string `yaml:"container"`
	MilestoneChars  int    `yaml:"milestone_chars"`
	MergeMode       string `yaml:"merge_mode"`   // "append" or "replace"
	StopTimeout     int    `yaml:"stop_timeout"` // seconds
}

// ServerConfig contains transcription service HTTP server configuration
type ServerConfig struct {
	Address            string `yaml:"address"`
	Port               int    `yaml:"port"`
	MinUploadBytes     int64  `yaml:"min_upload_bytes"`
	MaxUploadBytes     int64  `yaml:"max_upload_bytes"`
	SessionReuseWindow int    `yaml:"session_reuse_window"` // seconds
	SessionExpiry      int    `yaml:"session_expiry"`       // seconds
	MilestoneChars     int    `yaml:"milestone_chars"`
	TranscriptDir      string `yaml:"transcript_dir"` // per-session text files; empty disables
}

// ASRConfig contains speech recognizer configuration
type ASRConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	Fallback   bool   `yaml:"fallback"`
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// MetricsConfig contains Prometheus exposition configuration for the client
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file overrides a field
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:        "http://localhost:5001",
			Timeout:        60,
			StartRetries:   0,
			HealthInterval: 10,
		},
		Capture: CaptureConfig{
			Source:           "file",
			ListenAddress:    "127.0.0.1:8090",
			SegmentInterval:  5.0,
			SampleRate:       16000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			Realtime:         true,
			StartTimeout:     30,
		},
		Pipeline: PipelineConfig{
			MinSegmentBytes: 1000,
			Container:       "wav",
			MilestoneChars:  5000,
			MergeMode:       "append",
			StopTimeout:     60,
		},
		Server: ServerConfig{
			Address:            "0.0.0.0",
			Port:               5001,
			MinUploadBytes:     500,
			MaxUploadBytes:     100 * 1024 * 1024,
			SessionReuseWindow: 30,
			SessionExpiry:      3600,
			MilestoneChars:     5000,
			TranscriptDir:      "transcripts",
		},
		ASR: ASRConfig{
			Provider:   "openai",
			Model:      "whisper-1",
			Fallback:   true,
			FFmpegPath: "ffmpeg",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9091",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file, applies the environment overlay and validates the result.
// An empty path loads the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("environment overlay: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnv overrides fields from the process environment
func (c *Config) applyEnv() error {
	c.Service.BaseURL = getEnv(EnvServiceURL, c.Service.BaseURL)
	c.Logging.Level = getEnv(EnvLogLevel, c.Logging.Level)
	c.ASR.APIKey = getEnv(EnvOpenAIAPIKey, c.ASR.APIKey)
	c.ASR.BaseURL = getEnv(EnvOpenAIURL, c.ASR.BaseURL)

	if portStr := os.Getenv(EnvServerPort); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvServerPort, portStr)
		}
		c.Server.Port = port
	}

	return nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates service configuration
func (s *ServiceConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", s.BaseURL)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.StartRetries < 0 || s.StartRetries > 10 {
		return fmt.Errorf("start_retries must be between 0 and 10, got %d", s.StartRetries)
	}

	if s.HealthInterval < 1 {
		return fmt.Errorf("health_interval must be at least 1 second, got %d", s.HealthInterval)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case "file":
		// File path is supplied on the command line when empty here
	case "websocket":
		if c.ListenAddress == "" {
			return fmt.Errorf("listen_address cannot be empty for websocket source")
		}
	default:
		return fmt.Errorf("source must be 'file' or 'websocket', got '%s'", c.Source)
	}

	if c.SegmentInterval <= 0 {
		return fmt.Errorf("segment_interval must be positive, got %f", c.SegmentInterval)
	}

	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", c.SampleRate)
	}

	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", c.Channels)
	}

	if c.StartTimeout < 1 {
		return fmt.Errorf("start_timeout must be at least 1 second, got %d", c.StartTimeout)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.MinSegmentBytes < 0 {
		return fmt.Errorf("min_segment_bytes cannot be negative, got %d", p.MinSegmentBytes)
	}

	validContainers := map[string]bool{"wav": true, "webm": true, "ogg": true, "stream": true}
	if !validContainers[p.Container] {
		return fmt.Errorf("container must be one of [wav, webm, ogg, stream], got '%s'", p.Container)
	}

	if p.MilestoneChars < 1 {
		return fmt.Errorf("milestone_chars must be positive, got %d", p.MilestoneChars)
	}

	if p.MergeMode != "append" && p.MergeMode != "replace" {
		return fmt.Errorf("merge_mode must be 'append' or 'replace', got '%s'", p.MergeMode)
	}

	if p.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", p.StopTimeout)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.MinUploadBytes < 0 {
		return fmt.Errorf("min_upload_bytes cannot be negative, got %d", s.MinUploadBytes)
	}

	if s.MaxUploadBytes <= s.MinUploadBytes {
		return fmt.Errorf("max_upload_bytes (%d) must be greater than min_upload_bytes (%d)",
			s.MaxUploadBytes, s.MinUploadBytes)
	}

	if s.SessionReuseWindow < 0 {
		return fmt.Errorf("session_reuse_window cannot be negative, got %d", s.SessionReuseWindow)
	}

	if s.SessionExpiry < 1 {
		return fmt.Errorf("session_expiry must be at least 1 second, got %d", s.SessionExpiry)
	}

	if s.MilestoneChars < 1 {
		return fmt.Errorf("milestone_chars must be positive, got %d", s.MilestoneChars)
	}

	return nil
}

// Validate validates recognizer configuration. The API key is checked when the
// server starts, since client-only commands never need it.
func (a *ASRConfig) Validate() error {
	if a.Provider != "openai" {
		return fmt.Errorf("provider must be 'openai', got '%s'", a.Provider)
	}

	if a.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if a.Fallback && a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty when fallback is enabled")
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json', 'text' or 'pretty', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the request timeout as a time.Duration
func (s *ServiceConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetHealthIntervalDuration returns the health check interval as a time.Duration
func (s *ServiceConfig) GetHealthIntervalDuration() time.Duration {
	return time.Duration(s.HealthInterval) * time.Second
}

// GetSegmentInterval returns the capture segment interval as a time.Duration
func (c *CaptureConfig) GetSegmentInterval() time.Duration {
	return time.Duration(c.SegmentInterval * float64(time.Second))
}

// GetStartTimeoutDuration returns how long capture start may wait for a device
func (c *CaptureConfig) GetStartTimeoutDuration() time.Duration {
	return time.Duration(c.StartTimeout) * time.Second
}

// GetStopTimeoutDuration returns how long a stop may wait for the final flush
func (p *PipelineConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(p.StopTimeout) * time.Second
}

// GetSessionReuseWindow returns the session reuse window as a time.Duration
func (s *ServerConfig) GetSessionReuseWindow() time.Duration {
	return time.Duration(s.SessionReuseWindow) * time.Second
}

// GetSessionExpiry returns the idle session expiry as a time.Duration
func (s *ServerConfig) GetSessionExpiry() time.Duration {
	return time.Duration(s.SessionExpiry) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
