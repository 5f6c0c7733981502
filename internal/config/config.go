package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	BackendModeREST    = "rest"
	BackendModeChannel = "channel"
)

type Config struct {
	Env                string
	LogLevel           string
	BackendBaseURL     string
	BackendMode        string
	ChannelURL         string
	APIToken           string
	TranscribeUserID   string
	PollInterval       time.Duration
	PollMaxAttempts    int
	HeartbeatInterval  time.Duration
	HeartbeatGrace     time.Duration
	ChunkQueueSize     int
	AmplitudeMaxHz     float64
	HTTPTimeout        time.Duration
	DatabaseURL        string
	ResultWebhookURL   string
	TranscriptTimezone string
	MetricsAddr        string
}

// Validate checks every setting, including the backend ones record needs.
func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if u, err := url.Parse(c.BackendBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_BASE_URL must be an absolute URL, got %q", c.BackendBaseURL)
	}
	switch c.BackendMode {
	case BackendModeREST:
	case BackendModeChannel:
		if c.ChannelURL == "" {
			return fmt.Errorf("CHANNEL_URL is required when BACKEND_MODE=channel")
		}
		u, err := url.Parse(c.ChannelURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("CHANNEL_URL must be a ws:// or wss:// URL, got %q", c.ChannelURL)
		}
	default:
		return fmt.Errorf("BACKEND_MODE must be %q or %q, got %q", BackendModeREST, BackendModeChannel, c.BackendMode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.PollMaxAttempts)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatGrace < 0 {
		return fmt.Errorf("HEARTBEAT_GRACE must not be negative, got %s", c.HeartbeatGrace)
	}
	if c.ChunkQueueSize <= 0 {
		return fmt.Errorf("CHUNK_QUEUE_SIZE must be positive, got %d", c.ChunkQueueSize)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	return c.ValidateLocal()
}

// ValidateLocal checks only what commands that never reach the backend use.
func (c *Config) ValidateLocal() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) UsesChannel() bool {
	return c.BackendMode == BackendModeChannel
}

// SlogLevel is debug in development and LOG_LEVEL otherwise.
func (c *Config) SlogLevel() slog.Level {
	if c.IsDevelopment() {
		return slog.LevelDebug
	}
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", s)
}
