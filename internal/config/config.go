// Package config loads gogetter.yml from a workspace and applies
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gogetter/internal/constraints"
)

// FileName is the config file in the workspace root.
const FileName = "gogetter.yml"

const (
	EnvDB        = "GOGETTER_DB"
	EnvLLMAPIKey = "GOGETTER_LLM_API_KEY"
	EnvLogLevel  = "GOGETTER_LOG_LEVEL"
)

type Config struct {
	Database string             `yaml:"database" validate:"required"`
	AuditDB  string             `yaml:"audit_db" validate:"required"`
	Log      Log                `yaml:"log"`
	Limits   constraints.Limits `yaml:"limits"`
	Wizard   Wizard             `yaml:"wizard"`
	Groups   Groups             `yaml:"groups"`
	Daemon   Daemon             `yaml:"daemon"`
	Drafter  Drafter            `yaml:"drafter"`

	DesktopNotifications bool `yaml:"desktop_notifications"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type Wizard struct {
	TTL             time.Duration `yaml:"ttl" validate:"min=1m"`
	Parallelism     int           `yaml:"parallelism" validate:"min=1,max=32"`
	VerifyIsolation bool          `yaml:"verify_isolation"`
}

type Groups struct {
	ChangeCooldown time.Duration `yaml:"change_cooldown" validate:"min=0s"`
}

type Daemon struct {
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=1m"`
	PollInterval  time.Duration `yaml:"poll_interval" validate:"min=100ms"`
	MetricsAddr   string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

type Drafter struct {
	Kind   string `yaml:"kind" validate:"oneof=mock openai"`
	Enrich bool   `yaml:"enrich"`
	LLM    LLM    `yaml:"llm"`
}

type LLM struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Model             string        `yaml:"model"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=1s"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in configuration with paths relative to the
// workspace root.
func Default() Config {
	return Config{
		Database: "state/gogetter.sqlite",
		AuditDB:  "audit/events.sqlite",
		Log:      Log{Level: "info", Format: "text"},
		Limits:   constraints.DefaultLimits(),
		Wizard: Wizard{
			TTL:             24 * time.Hour,
			Parallelism:     4,
			VerifyIsolation: true,
		},
		Groups: Groups{ChangeCooldown: 168 * time.Hour},
		Daemon: Daemon{
			SweepInterval: time.Hour,
			PollInterval:  2 * time.Second,
		},
		Drafter: Drafter{
			Kind: "mock",
			LLM: LLM{
				Model:             "gpt-4o-mini",
				RequestsPerSecond: 1,
				Burst:             2,
				Timeout:           2 * time.Minute,
			},
		},
	}
}

// Load reads the workspace config. A missing file yields the defaults.
// Environment overrides are applied before validation and relative paths
// are resolved against the workspace root.
func Load(ws *Workspace) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ws.ConfigPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ws.ConfigPath, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Database, err = ws.ResolvePath(cfg.Database); err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	if cfg.AuditDB, err = ws.ResolvePath(cfg.AuditDB); err != nil {
		return nil, fmt.Errorf("resolve audit path: %w", err)
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDB)); v != "" {
		cfg.Database = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLLMAPIKey)); v != "" {
		cfg.Drafter.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// Validate checks field constraints and reports every failure.
func (c *Config) Validate() error {
	var msgs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
			}
		}
	}
	if c.Drafter.Kind == "openai" && strings.TrimSpace(c.Drafter.LLM.APIKey) == "" {
		msgs = append(msgs, fmt.Sprintf("Drafter.LLM.APIKey is required for the openai drafter (set %s)", EnvLLMAPIKey))
	}
	if len(msgs) > 0 {
		return fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}
	return nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(c Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Template is the gogetter.yml written by init.
const Template = `# gogetter workspace configuration
database: state/gogetter.sqlite
audit_db: audit/events.sqlite
log:
  level: info
  format: text
limits:
  daily_minutes_ceiling: 120
  min_span_days: 7
  min_preferred_days: 3
wizard:
  ttl: 24h
  parallelism: 4
  verify_isolation: true
groups:
  change_cooldown: 168h
daemon:
  sweep_interval: 1h
  poll_interval: 2s
  metrics_addr: ""
desktop_notifications: false
drafter:
  kind: mock
  enrich: false
  llm:
    model: gpt-4o-mini
    requests_per_second: 1
    burst: 2
    timeout: 2m
`
