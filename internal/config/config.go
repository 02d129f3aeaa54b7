package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	DBPath      string `envconfig:"DB_PATH" default:"downloads.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`

	DownloadLimit       int64         `envconfig:"DOWNLOAD_LIMIT" default:"3"`
	MaxConcurrentImages int64         `envconfig:"MAX_CONCURRENT_IMAGES" default:"0"`
	RetryLimit          int           `envconfig:"RETRY_LIMIT" default:"10"`
	ReadTimeout         time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	SchedulerDebounce   time.Duration `envconfig:"SCHEDULER_DEBOUNCE" default:"100ms"`
	ModulePollInterval  time.Duration `envconfig:"MODULE_POLL_INTERVAL" default:"100ms"`
	SanitizeReplacement string        `envconfig:"SANITIZE_REPLACEMENT" default:"_"`

	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	KeepPartialFor  time.Duration `envconfig:"KEEP_PARTIAL_FOR" default:"24h"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	MangaDex struct {
		Enabled   bool     `default:"true"`
		Rate      float64  `default:"5"`
		APIURL    string   `envconfig:"API_URL" default:"https://api.mangadex.org"`
		Languages []string `default:"en"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled        bool   `default:"true"`
		ServiceName    string `split_words:"true" default:"manga_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.DownloadDir == "" {
		return nil, errors.New("DOWNLOAD_DIR must not be empty")
	}

	if cfg.DownloadLimit < 0 {
		return nil, fmt.Errorf("DOWNLOAD_LIMIT must not be negative: %d", cfg.DownloadLimit)
	}

	if cfg.RetryLimit < 1 {
		return nil, fmt.Errorf("RETRY_LIMIT must be at least 1: %d", cfg.RetryLimit)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
