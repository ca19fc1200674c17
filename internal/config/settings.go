package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the deployment-side service configuration, read from a YAML
// file. Everything has a workable default; a missing file means defaults.
type Settings struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// RulesDir holds the CUE rule and catalog files.
	RulesDir string `yaml:"rules_dir"`

	// WebhookSecret signs incoming order webhooks. Empty disables
	// signature verification; the server refuses to start that way unless
	// explicitly allowed.
	WebhookSecret string `yaml:"webhook_secret"`

	// AllowUnsignedWebhooks permits running without a webhook secret.
	// Meant for local development only.
	AllowUnsignedWebhooks bool `yaml:"allow_unsigned_webhooks"`

	// AdminToken authorizes the admin endpoints. Empty disables them.
	AdminToken string `yaml:"admin_token"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ClaimRetryInterval is how often the pending-claim sweeper runs.
	ClaimRetryInterval Duration `yaml:"claim_retry_interval"`

	// ClaimRetryBatch caps how many pending claims one sweep touches.
	ClaimRetryBatch int `yaml:"claim_retry_batch"`
}

// Duration decodes Go duration strings like "90s" from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultSettings returns the development defaults.
func DefaultSettings() Settings {
	return Settings{
		Listen:             ":8080",
		DBPath:             "dojo.db",
		RulesDir:           "rules",
		LogLevel:           "info",
		ClaimRetryInterval: Duration(time.Minute),
		ClaimRetryBatch:    50,
	}
}

// LoadSettings reads settings from a YAML file over the defaults. An empty
// path returns pure defaults. Unknown keys are an error so a typo fails the
// start instead of silently using a default.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	// An empty file decodes to EOF; defaults stand.
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SlogLevel maps LogLevel onto a slog level. Unknown values read as info;
// Validate catches them before this matters.
func (s Settings) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks settings invariants shared by file and default paths.
func (s Settings) Validate() error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("settings: unknown log_level %q", s.LogLevel)
	}
	if s.ClaimRetryInterval <= 0 {
		return fmt.Errorf("settings: claim_retry_interval must be positive")
	}
	if s.ClaimRetryBatch <= 0 {
		return fmt.Errorf("settings: claim_retry_batch must be positive")
	}
	return nil
}
