package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server,omitempty"`
	Database  DatabaseConfig  `json:"database"`
	Generator GeneratorConfig `json:"generator"`
	Payment   PaymentConfig   `json:"payment"`
	Lessons   LessonsConfig   `json:"lessons,omitempty"`
	Outbox    OutboxConfig    `json:"outbox,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ServerConfig controls the HTTP sidecar (health, metrics, payment webhook).
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:3000"
}

type DatabaseConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// GeneratorConfig controls the sentence generation API client.
//
// Durations are Go duration strings. Defaults (when omitted/zero):
//   - timeout: "30s"
//   - max_attempts: 3
//   - retry_base: "1s"
//   - history_size: 30
//   - duplicate_retries: 2
type GeneratorConfig struct {
	APIURL           string `json:"api_url,omitempty"`
	APIKey           string `json:"api_key"`
	Model            string `json:"model,omitempty"`
	Timeout          string `json:"timeout,omitempty"`
	MaxAttempts      int    `json:"max_attempts,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	HistorySize      int    `json:"history_size,omitempty"`
	DuplicateRetries int    `json:"duplicate_retries,omitempty"`
}

// PaymentConfig controls the TON subscription flow.
//
// Defaults (when omitted/zero):
//   - api_url: "https://tonapi.io"
//   - amount_ton: 1.0
//   - subscription_days: 30
//   - window_size: 20
//   - check_attempts: 3
//   - check_delay: "3s"
//   - pending_ttl: "1h"
type PaymentConfig struct {
	Address          string  `json:"address"`
	APIURL           string  `json:"api_url,omitempty"`
	APIKey           string  `json:"api_key,omitempty"`
	AmountTON        float64 `json:"amount_ton,omitempty"`
	SubscriptionDays int     `json:"subscription_days,omitempty"`
	WindowSize       int     `json:"window_size,omitempty"`
	CheckAttempts    int     `json:"check_attempts,omitempty"`
	CheckDelay       string  `json:"check_delay,omitempty"`
	PendingTTL       string  `json:"pending_ttl,omitempty"`
}

// LessonsConfig controls the daily fan-out and the content cache period.
//
// Defaults:
//   - timezone: "Asia/Bangkok"
//   - daily_cron: "0 9 * * *"
//   - reset_hour: 8
type LessonsConfig struct {
	Timezone  string `json:"timezone,omitempty"`
	DailyCron string `json:"daily_cron,omitempty"`
	ResetHour *int   `json:"reset_hour,omitempty"`
}

// OutboxConfig controls the delivery queue.
//
// Defaults:
//   - queue_size: 1024
//   - min_interval: "1s"
type OutboxConfig struct {
	QueueSize   int    `json:"queue_size,omitempty"`
	MinInterval string `json:"min_interval,omitempty"`
}

// Validate checks fields that would otherwise fail deep inside a service
// at an awkward time (first daily batch, first payment check).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if strings.TrimSpace(c.Generator.APIKey) == "" {
		return errors.New("generator.api_key is required")
	}
	if strings.TrimSpace(c.Payment.Address) == "" {
		return errors.New("payment.address is required")
	}
	if tz := strings.TrimSpace(c.Lessons.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("lessons.timezone: %w", err)
		}
	}
	if c.Lessons.ResetHour != nil {
		if h := *c.Lessons.ResetHour; h < 0 || h > 23 {
			return fmt.Errorf("lessons.reset_hour: %d out of range [0,23]", h)
		}
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"database.busy_timeout", c.Database.BusyTimeout},
		{"generator.timeout", c.Generator.Timeout},
		{"generator.retry_base", c.Generator.RetryBase},
		{"payment.check_delay", c.Payment.CheckDelay},
		{"payment.pending_ttl", c.Payment.PendingTTL},
		{"outbox.min_interval", c.Outbox.MinInterval},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}
