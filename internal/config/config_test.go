package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Session: SessionConfig{
			StartingGraceMs:     700,
			SuppressionWindowMs: 100,
			TickIntervalMs:      1000,
			AutoAdvance:         true,
		},
		Audio: AudioConfig{
			SampleRate:   16000,
			QuantumSize:  128,
			FrameSamples: 1536,
			QueueDepth:   32,
		},
		Stream: StreamConfig{
			URL:                  "wss://transcribe.example.com/stream",
			MaxReconnectAttempts: 5,
			BackoffMinMs:         500,
			BackoffMaxMs:         8000,
			HandshakeTimeout:     10,
			EventBuffer:          64,
		},
		Classify: ClassifyConfig{
			Endpoint:      "https://api.example.com/classify",
			APIKey:        "test-key",
			Timeout:       15,
			MaxConcurrent: 4,
			EMAAlpha:      0.3,
			TopicMaxAge:   120,
		},
		Templates: TemplatesConfig{
			Endpoint: "https://api.example.com",
			APIKey:   "test-key",
			Timeout:  10,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "invalid sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 8000 },
			expectError: true,
			errorMsg:    "sample_rate must be 16000 Hz",
		},
		{
			name:        "frame not a multiple of quantum",
			mutate:      func(c *Config) { c.Audio.FrameSamples = 1000 },
			expectError: true,
			errorMsg:    "must be a multiple of quantum_size",
		},
		{
			name:        "zero starting grace",
			mutate:      func(c *Config) { c.Session.StartingGraceMs = 0 },
			expectError: true,
			errorMsg:    "starting_grace_ms must be at least 1",
		},
		{
			name:        "missing stream url",
			mutate:      func(c *Config) { c.Stream.URL = "" },
			expectError: true,
			errorMsg:    "url cannot be empty",
		},
		{
			name:        "backoff max below min",
			mutate:      func(c *Config) { c.Stream.BackoffMaxMs = 100 },
			expectError: true,
			errorMsg:    "backoff_max_ms",
		},
		{
			name:        "zero reconnect attempts",
			mutate:      func(c *Config) { c.Stream.MaxReconnectAttempts = 0 },
			expectError: true,
			errorMsg:    "max_reconnect_attempts must be at least 1",
		},
		{
			name:        "ema alpha out of range",
			mutate:      func(c *Config) { c.Classify.EMAAlpha = 1.5 },
			expectError: true,
			errorMsg:    "ema_alpha must be in (0, 1]",
		},
		{
			name:        "missing classify endpoint",
			mutate:      func(c *Config) { c.Classify.Endpoint = "" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name:        "missing templates endpoint",
			mutate:      func(c *Config) { c.Templates.Endpoint = "" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
session:
  starting_grace_ms: 700
  suppression_window_ms: 100
  tick_interval_ms: 1000
  auto_advance: true
audio:
  sample_rate: 16000
  quantum_size: 128
  frame_samples: 1536
  queue_depth: 32
stream:
  url: "wss://transcribe.example.com/stream"
  max_reconnect_attempts: 5
  backoff_min_ms: 500
  backoff_max_ms: 8000
  handshake_timeout: 10
  event_buffer: 64
classify:
  endpoint: "https://api.example.com/classify"
  api_key: "test-key"
  timeout: 15
  max_concurrent: 4
  ema_alpha: 0.3
  topic_max_age: 120
templates:
  endpoint: "https://api.example.com/templates"
  api_key: "test-key"
  timeout: 10
http:
  port: 8080
  address: "0.0.0.0"
  enabled: true
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
audio:
  sample_rate: 16000
  quantum_size: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
audio:
  sample_rate: 16000
  quantum_size: 128
  frame_samples: 1536
  queue_depth: 32
`,
			expectError: true,
			errorMsg:    "config validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	session := SessionConfig{
		StartingGraceMs:     700,
		SuppressionWindowMs: 100,
		TickIntervalMs:      1000,
	}

	if session.GetStartingGraceDuration() != 700*time.Millisecond {
		t.Errorf("Expected 700ms, got %v", session.GetStartingGraceDuration())
	}

	if session.GetSuppressionWindowDuration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", session.GetSuppressionWindowDuration())
	}

	if session.GetTickIntervalDuration() != time.Second {
		t.Errorf("Expected 1 second, got %v", session.GetTickIntervalDuration())
	}

	stream := StreamConfig{
		BackoffMinMs:     500,
		BackoffMaxMs:     8000,
		HandshakeTimeout: 10,
	}

	if stream.GetBackoffMinDuration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", stream.GetBackoffMinDuration())
	}

	if stream.GetBackoffMaxDuration() != 8*time.Second {
		t.Errorf("Expected 8 seconds, got %v", stream.GetBackoffMaxDuration())
	}

	if stream.GetHandshakeTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", stream.GetHandshakeTimeoutDuration())
	}

	classify := ClassifyConfig{
		Timeout:     15,
		TopicMaxAge: 120,
	}

	if classify.GetTimeoutDuration() != 15*time.Second {
		t.Errorf("Expected 15 seconds, got %v", classify.GetTimeoutDuration())
	}

	if classify.GetTopicMaxAgeDuration() != 2*time.Minute {
		t.Errorf("Expected 2 minutes, got %v", classify.GetTopicMaxAgeDuration())
	}

	templates := TemplatesConfig{
		Timeout: 10,
	}

	if templates.GetTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", templates.GetTimeoutDuration())
	}
}
