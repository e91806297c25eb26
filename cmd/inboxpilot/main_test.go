package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/llm"
)

func TestNewLLMClientFallsBackWithoutCredentials(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	for _, cfg := range []config.LLMConfig{
		{Provider: "none", APIKey: "key"},
		{Provider: "gemini"},
		{Provider: "openai"},
	} {
		client, err := newLLMClient(context.Background(), cfg, log)
		require.NoError(t, err)
		assert.IsType(t, llm.Disabled{}, client, "provider %q", cfg.Provider)
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.LLM.Timeout = 12 * time.Second

	pc := pipelineConfig(cfg)
	assert.Equal(t, cfg.Engine.HistoryLimit, pc.HistoryLimit)
	assert.Equal(t, cfg.Engine.CycleTimeout, pc.CycleTimeout)
	assert.Equal(t, 12*time.Second, pc.LLMTimeout)
	assert.Equal(t, cfg.FollowUp.ReplyWindow, pc.ReplyWindow)
	assert.Equal(t, cfg.FollowUp.LeadTime, pc.LeadTime)
	assert.Equal(t, cfg.Engine.RepetitionWords, pc.RepetitionWords)
}

func TestSandboxList(t *testing.T) {
	var out bytes.Buffer
	sandboxListCmd.SetOut(&out)
	require.NoError(t, sandboxListCmd.RunE(sandboxListCmd, nil))
	assert.Contains(t, out.String(), "pricing-question")
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 5)
}

func TestSandboxRunAdHoc(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"llm:\n  provider: none\ndatabase:\n  path: "+filepath.Join(dir, "test.db")+"\nlog:\n  level: error\n"), 0o600))

	configPath = path
	sandboxMessages = []string{"hello there"}
	t.Cleanup(func() {
		configPath = "./config.yaml"
		sandboxMessages = nil
	})

	var out bytes.Buffer
	sandboxRunCmd.SetOut(&out)
	sandboxRunCmd.SetContext(context.Background())
	require.NoError(t, sandboxRunCmd.RunE(sandboxRunCmd, nil))

	assert.Contains(t, out.String(), "scenario_id: ad-hoc")
	assert.Contains(t, out.String(), "customer: hello there")
}
