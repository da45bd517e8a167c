package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspaceDir(t *testing.T, body string) *Workspace {
	t.Helper()
	ws, err := Init(t.TempDir())
	require.NoError(t, err)
	if body != "" {
		require.NoError(t, os.WriteFile(ws.ConfigPath, []byte(body), 0o644))
	}
	return ws
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	ws := newWorkspaceDir(t, "")

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(ws.Root, "state", "gogetter.sqlite"), cfg.Database)
	assert.Equal(t, 120, cfg.Limits.DailyMinutesCeiling)
	assert.Equal(t, 24*time.Hour, cfg.Wizard.TTL)
	assert.Equal(t, 168*time.Hour, cfg.Groups.ChangeCooldown)
	assert.Equal(t, time.Hour, cfg.Daemon.SweepInterval)
	assert.Equal(t, "mock", cfg.Drafter.Kind)
	assert.Equal(t, 4, cfg.Wizard.Parallelism)
	assert.Equal(t, 2, cfg.Drafter.LLM.Burst)
}

func TestLoadTemplateMatchesDefaults(t *testing.T) {
	ws := newWorkspaceDir(t, Template)

	cfg, err := Load(ws)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Limits, cfg.Limits)
	assert.Equal(t, def.Wizard, cfg.Wizard)
	assert.Equal(t, def.Groups, cfg.Groups)
	assert.Equal(t, def.Drafter, cfg.Drafter)
}

func TestLoadOverridesAndEnv(t *testing.T) {
	ws := newWorkspaceDir(t, `
database: /var/lib/gg.sqlite
limits:
  daily_minutes_ceiling: 90
  min_span_days: 7
  min_preferred_days: 2
wizard:
  ttl: 2h
  parallelism: 2
`)
	t.Setenv(EnvDB, "other/db.sqlite")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(ws.Root, "other", "db.sqlite"), cfg.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90, cfg.Limits.DailyMinutesCeiling)
	assert.Equal(t, 2, cfg.Limits.MinPreferredDays)
	assert.Equal(t, 2*time.Hour, cfg.Wizard.TTL)
	assert.Equal(t, 2, cfg.Wizard.Parallelism)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	ws := newWorkspaceDir(t, "wizzard:\n  ttl: 1h\n")

	_, err := Load(ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wizzard")
}

func TestLoadReportsEveryInvalidField(t *testing.T) {
	ws := newWorkspaceDir(t, `
log:
  level: loud
  format: text
wizard:
  ttl: 24h
  parallelism: 0
drafter:
  kind: openai
`)

	_, err := Load(ws)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "Log.Level failed oneof")
	assert.Contains(t, msg, "Wizard.Parallelism failed min=1")
	assert.Contains(t, msg, "Drafter.LLM.APIKey is required")
}

func TestOpenAIKeyFromEnv(t *testing.T) {
	ws := newWorkspaceDir(t, "drafter:\n  kind: openai\n")
	t.Setenv(EnvLLMAPIKey, "sk-test")

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Drafter.LLM.APIKey)
}

func TestResolvePathExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ws := newWorkspaceDir(t, "")

	got, err := ws.ResolvePath("~/gg.sqlite")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "gg.sqlite"), got)

	_, err = ws.ResolvePath("~other/gg.sqlite")
	assert.Error(t, err)
}

func TestResolveRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := Resolve(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Log{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "wizard_id", 7)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"wizard_id":7`)
}
