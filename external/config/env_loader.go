package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env                string        `env:"ENV" envDefault:"production"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	BackendBaseURL     string        `env:"BACKEND_BASE_URL"`
	BackendMode        string        `env:"BACKEND_MODE" envDefault:"rest"`
	ChannelURL         string        `env:"CHANNEL_URL"`
	APIToken           string        `env:"API_TOKEN"`
	TranscribeUserID   string        `env:"TRANSCRIBE_USER_ID"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`
	PollMaxAttempts    int           `env:"POLL_MAX_ATTEMPTS" envDefault:"30"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatGrace     time.Duration `env:"HEARTBEAT_GRACE" envDefault:"10s"`
	ChunkQueueSize     int           `env:"CHUNK_QUEUE_SIZE" envDefault:"32"`
	AmplitudeMaxHz     float64       `env:"AMPLITUDE_MAX_HZ" envDefault:"30"`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	ResultWebhookURL   string        `env:"RESULT_WEBHOOK_URL"`
	TranscriptTimezone string        `env:"TRANSCRIPT_TIMEZONE" envDefault:"Asia/Tokyo"`
	MetricsAddr        string        `env:"METRICS_ADDR"`
}

// Load reads an optional .env file from the working directory, then the
// process environment. Variables already set in the environment win.
func Load() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return parse(true)
}

// LoadLocal is Load without the backend settings being required, for
// commands that only read local history.
func LoadLocal() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return parse(false)
}

func parse(requireBackend bool) (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                raw.Env,
		LogLevel:           raw.LogLevel,
		BackendBaseURL:     raw.BackendBaseURL,
		BackendMode:        raw.BackendMode,
		ChannelURL:         raw.ChannelURL,
		APIToken:           raw.APIToken,
		TranscribeUserID:   raw.TranscribeUserID,
		PollInterval:       raw.PollInterval,
		PollMaxAttempts:    raw.PollMaxAttempts,
		HeartbeatInterval:  raw.HeartbeatInterval,
		HeartbeatGrace:     raw.HeartbeatGrace,
		ChunkQueueSize:     raw.ChunkQueueSize,
		AmplitudeMaxHz:     raw.AmplitudeMaxHz,
		HTTPTimeout:        raw.HTTPTimeout,
		DatabaseURL:        raw.DatabaseURL,
		ResultWebhookURL:   raw.ResultWebhookURL,
		TranscriptTimezone: raw.TranscriptTimezone,
		MetricsAddr:        raw.MetricsAddr,
	}
	validate := cfg.ValidateLocal
	if requireBackend {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
