package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalJSON = `{
  "telegram": {"token": "123:abc"},
  "database": {"path": "/tmp/bot.db"},
  "generator": {"api_key": "sk-test"},
  "payment": {"address": "UQtest"}
}`

func TestLoadMinimalJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned a different config")
	}
}

func TestLoadYAML(t *testing.T) {
	body := `
telegram:
  token: "123:abc"
  poll_timeout: 15s
database:
  path: /tmp/bot.db
generator:
  api_key: sk-test
payment:
  address: UQtest
  amount_ton: 2.5
lessons:
  timezone: Asia/Bangkok
  reset_hour: 8
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Payment.AmountTON != 2.5 {
		t.Fatalf("amount_ton = %v", cfg.Payment.AmountTON)
	}
	if cfg.Lessons.ResetHour == nil || *cfg.Lessons.ResetHour != 8 {
		t.Fatalf("reset_hour = %v", cfg.Lessons.ResetHour)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	body := strings.Replace(minimalJSON, `"telegram"`, `"telegarm"`, 1)
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Load(); err == nil {
		t.Fatalf("misspelled section accepted")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", minimalJSON+"{}"))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("trailing tokens accepted")
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"missing db path", func(c *Config) { c.Database.Path = "" }},
		{"missing api key", func(c *Config) { c.Generator.APIKey = "" }},
		{"missing wallet", func(c *Config) { c.Payment.Address = "" }},
		{"bad timezone", func(c *Config) { c.Lessons.Timezone = "Nowhere/Void" }},
		{"bad duration", func(c *Config) { c.Outbox.MinInterval = "three seconds" }},
		{"reset hour high", func(c *Config) { h := 24; c.Lessons.ResetHour = &h }},
		{"reset hour negative", func(c *Config) { h := -1; c.Lessons.ResetHour = &h }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Telegram:  TelegramConfig{Token: "t"},
				Database:  DatabaseConfig{Path: "p"},
				Generator: GeneratorConfig{APIKey: "k"},
				Payment:   PaymentConfig{Address: "a"},
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("invalid config passed validation")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	if _, err := ParseDurationField("x", "5m"); err != nil {
		t.Fatalf("valid duration rejected: %v", err)
	}
	if _, err := ParseDurationField("x", ""); err != nil {
		t.Fatalf("empty duration should be accepted as zero: %v", err)
	}
	if _, err := ParseDurationField("x", "5 minutes"); err == nil {
		t.Fatalf("invalid duration accepted")
	}
	d, err := ParseDurationOrDefault("x", "", 42)
	if err != nil || d != 42 {
		t.Fatalf("default not applied: d=%v err=%v", d, err)
	}
}
