package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestGocronLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewGocronLogger(base)

	l.Info("job scheduled", "name", "buffer_flush")
	assert.Empty(t, buf.String(), "info is demoted below the handler level")

	l.Error("job failed", "name", "daily_report")
	out := buf.String()
	assert.Contains(t, out, "job failed")
	assert.Contains(t, out, "component=gocron")
	assert.Contains(t, out, "name=daily_report")
}
