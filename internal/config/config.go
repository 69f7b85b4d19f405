package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Stream    StreamConfig    `yaml:"stream"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Templates TemplatesConfig `yaml:"templates"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SessionConfig contains session lifecycle configuration
type SessionConfig struct {
	StartingGraceMs     int  `yaml:"starting_grace_ms"`
	SuppressionWindowMs int  `yaml:"suppression_window_ms"`
	TickIntervalMs      int  `yaml:"tick_interval_ms"`
	AutoAdvance         bool `yaml:"auto_advance"`
}

// AudioConfig contains audio capture parameters
type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	QuantumSize  int `yaml:"quantum_size"`  // samples per capture callback
	FrameSamples int `yaml:"frame_samples"` // samples per emitted frame
	QueueDepth   int `yaml:"queue_depth"`
}

// StreamConfig contains transcription stream configuration
type StreamConfig struct {
	URL                  string `yaml:"url"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	BackoffMinMs         int    `yaml:"backoff_min_ms"`
	BackoffMaxMs         int    `yaml:"backoff_max_ms"`
	HandshakeTimeout     int    `yaml:"handshake_timeout"` // seconds
	EventBuffer          int    `yaml:"event_buffer"`
}

// ClassifyConfig contains classification API configuration
type ClassifyConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxConcurrent int     `yaml:"max_concurrent"`
	EMAAlpha      float64 `yaml:"ema_alpha"`
	TopicMaxAge   int     `yaml:"topic_max_age"` // seconds
}

// TemplatesConfig contains call-card template API configuration
type TemplatesConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Classify.Validate(); err != nil {
		return fmt.Errorf("classify config: %w", err)
	}

	if err := c.Templates.Validate(); err != nil {
		return fmt.Errorf("templates config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.StartingGraceMs < 1 {
		return fmt.Errorf("starting_grace_ms must be at least 1, got %d", s.StartingGraceMs)
	}

	if s.SuppressionWindowMs < 1 {
		return fmt.Errorf("suppression_window_ms must be at least 1, got %d", s.SuppressionWindowMs)
	}

	if s.TickIntervalMs < 10 {
		return fmt.Errorf("tick_interval_ms must be at least 10, got %d", s.TickIntervalMs)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.QuantumSize < 1 {
		return fmt.Errorf("quantum_size must be at least 1 sample, got %d", a.QuantumSize)
	}

	if a.FrameSamples < a.QuantumSize {
		return fmt.Errorf("frame_samples (%d) must be at least quantum_size (%d)",
			a.FrameSamples, a.QuantumSize)
	}

	if a.FrameSamples%a.QuantumSize != 0 {
		return fmt.Errorf("frame_samples (%d) must be a multiple of quantum_size (%d)",
			a.FrameSamples, a.QuantumSize)
	}

	if a.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", a.QueueDepth)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if s.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max_reconnect_attempts must be at least 1, got %d", s.MaxReconnectAttempts)
	}

	if s.BackoffMinMs < 1 {
		return fmt.Errorf("backoff_min_ms must be at least 1, got %d", s.BackoffMinMs)
	}

	if s.BackoffMaxMs < s.BackoffMinMs {
		return fmt.Errorf("backoff_max_ms (%d) must be at least backoff_min_ms (%d)",
			s.BackoffMaxMs, s.BackoffMinMs)
	}

	if s.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", s.HandshakeTimeout)
	}

	if s.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", s.EventBuffer)
	}

	return nil
}

// Validate validates classification configuration
func (c *ClassifyConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be in (0, 1], got %f", c.EMAAlpha)
	}

	if c.TopicMaxAge < 1 {
		return fmt.Errorf("topic_max_age must be at least 1 second, got %d", c.TopicMaxAge)
	}

	return nil
}

// Validate validates templates configuration
func (t *TemplatesConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
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

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetStartingGraceDuration returns the starting grace delay as a time.Duration
func (s *SessionConfig) GetStartingGraceDuration() time.Duration {
	return time.Duration(s.StartingGraceMs) * time.Millisecond
}

// GetSuppressionWindowDuration returns the suppression window as a time.Duration
func (s *SessionConfig) GetSuppressionWindowDuration() time.Duration {
	return time.Duration(s.SuppressionWindowMs) * time.Millisecond
}

// GetTickIntervalDuration returns the clock tick interval as a time.Duration
func (s *SessionConfig) GetTickIntervalDuration() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

// GetBackoffMinDuration returns the minimum reconnect backoff as a time.Duration
func (s *StreamConfig) GetBackoffMinDuration() time.Duration {
	return time.Duration(s.BackoffMinMs) * time.Millisecond
}

// GetBackoffMaxDuration returns the maximum reconnect backoff as a time.Duration
func (s *StreamConfig) GetBackoffMaxDuration() time.Duration {
	return time.Duration(s.BackoffMaxMs) * time.Millisecond
}

// GetHandshakeTimeoutDuration returns the websocket handshake timeout as a time.Duration
func (s *StreamConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(s.HandshakeTimeout) * time.Second
}

// GetTimeoutDuration returns the classification request timeout as a time.Duration
func (c *ClassifyConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetTopicMaxAgeDuration returns the topic expiry window as a time.Duration
func (c *ClassifyConfig) GetTopicMaxAgeDuration() time.Duration {
	return time.Duration(c.TopicMaxAge) * time.Second
}

// GetTimeoutDuration returns the template request timeout as a time.Duration
func (t *TemplatesConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
