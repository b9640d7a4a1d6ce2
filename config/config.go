// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Backend names the record store implementation.
type Backend string

// Record store backends.
const (
	BackendSheets Backend = "sheets"
	BackendBucket Backend = "bucket"
	BackendLocal  Backend = "local"
)

// Config holds all runtime settings.
type Config struct {
	Port                   string
	LineChannelAccessToken string
	LineChannelSecret      string
	SpreadsheetID          string
	GoogleCredentialsJSON  string
	StorageBucket          string
	LocalStorage           string
	PriceCheckCron         string
	PriceCheckTZ           string
	CronSecret             string
	LogLevel               slog.Level
	ItemDelay              time.Duration
	SourceTimeout          time.Duration
	EnableInternalCron     bool
}

// Backend returns the record store selected by the settings: a spreadsheet
// when one is configured, then a bucket, then the local directory.
func (c *Config) Backend() Backend {
	switch {
	case c.SpreadsheetID != "":
		return BackendSheets
	case c.StorageBucket != "" && c.LocalStorage == "":
		return BackendBucket
	default:
		return BackendLocal
	}
}

// MockPush reports whether messages are logged instead of sent.
func (c *Config) MockPush() bool {
	return c.LineChannelAccessToken == ""
}

// Load reads a .env file if present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults and validation.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := &Config{
		Port:                   withDefault(getenv("PORT"), "8080"),
		LineChannelAccessToken: getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		LineChannelSecret:      getenv("LINE_CHANNEL_SECRET"),
		SpreadsheetID:          getenv("GOOGLE_SPREADSHEET_ID"),
		GoogleCredentialsJSON:  getenv("GOOGLE_CREDENTIALS_JSON"),
		StorageBucket:          getenv("STORAGE_BUCKET"),
		LocalStorage:           getenv("LOCAL_STORAGE"),
		PriceCheckCron:         withDefault(getenv("PRICE_CHECK_CRON"), "0 */6 * * *"),
		PriceCheckTZ:           withDefault(getenv("PRICE_CHECK_TZ"), "Asia/Taipei"),
		CronSecret:             getenv("CRON_SECRET"),
	}

	if c.StorageBucket == "" && c.LocalStorage == "" {
		c.LocalStorage = "./data"
	}

	var errs []error

	var err error
	if c.EnableInternalCron, err = parseBool(getenv("ENABLE_INTERNAL_CRON")); err != nil {
		errs = append(errs, fmt.Errorf("ENABLE_INTERNAL_CRON: %w", err))
	}
	if c.ItemDelay, err = parseDuration(getenv("ITEM_DELAY"), 2*time.Second); err != nil {
		errs = append(errs, fmt.Errorf("ITEM_DELAY: %w", err))
	}
	if c.SourceTimeout, err = parseDuration(getenv("SOURCE_TIMEOUT"), 10*time.Second); err != nil {
		errs = append(errs, fmt.Errorf("SOURCE_TIMEOUT: %w", err))
	}
	if c.LogLevel, err = parseLevel(getenv("LOG_LEVEL")); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if _, err := cron.ParseStandard(c.PriceCheckCron); err != nil {
		errs = append(errs, fmt.Errorf("PRICE_CHECK_CRON %q: %w", c.PriceCheckCron, err))
	}
	if _, err := time.LoadLocation(c.PriceCheckTZ); err != nil {
		errs = append(errs, fmt.Errorf("PRICE_CHECK_TZ %q: %w", c.PriceCheckTZ, err))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT %q: not a number", c.Port))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	// Bare numbers are seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func parseLevel(v string) (slog.Level, error) {
	var l slog.Level
	if v == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
