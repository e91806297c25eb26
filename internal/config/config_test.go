package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 10, cfg.Engine.HistoryLimit)
	assert.InDelta(t, 0.7, cfg.Engine.RepetitionThreshold, 1e-9)
	assert.Equal(t, 8, cfg.Engine.RepetitionWords)
	assert.Equal(t, 24*time.Hour, cfg.FollowUp.ReplyWindow)
	assert.Equal(t, 2*time.Hour, cfg.FollowUp.LeadTime)

	for _, name := range []string{config.JobFollowUp, config.JobBufferFlush, config.JobDailyReport, config.JobMaintenance} {
		job, ok := cfg.Scheduler.Job(name)
		require.True(t, ok, name)
		assert.True(t, job.Enabled, name)
		assert.Positive(t, job.Interval, name)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
llm:
  provider: openai
  model: gpt-4o-mini
buffer:
  debounce: 3s
  max_wait: 12s
scheduler:
  jobs:
    daily_report:
      enabled: false
      interval: 24h
`)
	t.Setenv("INBOX_TELEGRAM_WORKSPACE_ID", "acme")
	t.Setenv("INBOX_LLM_API_KEY", "sk-test")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "acme", cfg.Telegram.WorkspaceID)
	assert.Equal(t, 3*time.Second, cfg.Buffer.Debounce)

	job, ok := cfg.Scheduler.Job(config.JobDailyReport)
	require.True(t, ok)
	assert.False(t, job.Enabled)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown log level", body: "log:\n  level: loud\n"},
		{name: "unknown provider", body: "llm:\n  provider: llama\n"},
		{name: "max wait below debounce", body: "buffer:\n  debounce: 10s\n  max_wait: 5s\n"},
		{name: "lead time beyond window", body: "followup:\n  reply_window: 1h\n  lead_time: 2h\n"},
		{name: "threshold out of range", body: "engine:\n  repetition_threshold: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrConfiguration)
		})
	}
}
