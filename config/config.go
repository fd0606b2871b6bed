// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lightlink-network/proposer-indexer/database"
)

// GapAuditDisabled turns the gap audit off when set as GAP_AUDIT_SCHEDULE.
const GapAuditDisabled = "off"

type Config struct {
	RPCURL          string `env:"RPC_URL"                  envDefault:"https://rpc.osmosis.zone"`
	LowestHeight    int64  `env:"LOWEST_HEIGHT"            envDefault:"9558628"`
	IntervalSeconds int    `env:"INDEXER_INTERVAL_SECONDS" envDefault:"30"`
	BatchSize       int64  `env:"BATCH_SIZE"               envDefault:"5"`

	DatabaseDriver              string `env:"DATABASE_DRIVER"                envDefault:"postgres"`
	DatabaseURI                 string `env:"DATABASE_URI"                   envDefault:"postgres://osmosis:osmosis@db:5432/osmosis?sslmode=disable"`
	DatabaseName                string `env:"DATABASE_NAME"                  envDefault:"osmosis"`
	DatabaseConnectAttempts     int    `env:"DATABASE_CONNECT_ATTEMPTS"      envDefault:"10"`
	DatabaseConnectDelaySeconds int    `env:"DATABASE_CONNECT_DELAY_SECONDS" envDefault:"2"`

	APIPort          string `env:"API_PORT"           envDefault:"8080"`
	GapAuditSchedule string `env:"GAP_AUDIT_SCHEDULE" envDefault:"@every 10m"`
	LogLevel         string `env:"LOG_LEVEL"          envDefault:"info"`
}

// Load reads an optional .env file from the working directory and then
// parses the environment. Variables already set in the environment win over
// the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.BatchSize < 1 || c.BatchSize > database.MaxBatchSize {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be between 1 and %d, got %d", database.MaxBatchSize, c.BatchSize))
	}
	if c.IntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("INDEXER_INTERVAL_SECONDS must be at least 1, got %d", c.IntervalSeconds))
	}
	if c.DatabaseConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("DATABASE_CONNECT_ATTEMPTS must be at least 1, got %d", c.DatabaseConnectAttempts))
	}
	if c.DatabaseConnectDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("DATABASE_CONNECT_DELAY_SECONDS must not be negative, got %d", c.DatabaseConnectDelaySeconds))
	}
	if c.DatabaseDriver != database.DriverPostgres && c.DatabaseDriver != database.DriverMongo {
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", database.DriverPostgres, database.DriverMongo, c.DatabaseDriver))
	}
	if c.DatabaseURI == "" {
		errs = append(errs, errors.New("DATABASE_URI is required"))
	}
	if u, err := url.Parse(c.RPCURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("RPC_URL must be an absolute URL, got %q", c.RPCURL))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c Config) ConnectDelay() time.Duration {
	return time.Duration(c.DatabaseConnectDelaySeconds) * time.Second
}

// AuditSchedule returns the cron spec for the gap audit, or "" when disabled.
func (c Config) AuditSchedule() string {
	if strings.EqualFold(strings.TrimSpace(c.GapAuditSchedule), GapAuditDisabled) {
		return ""
	}
	return c.GapAuditSchedule
}

func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", level)
	}
	return l, nil
}
