package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/bot/tasks"
)

type blockingListener struct{ started chan struct{} }

func (l blockingListener) Start(ctx context.Context) {
	close(l.started)
	<-ctx.Done()
}

type returningListener struct{}

func (returningListener) Start(context.Context) {}

func TestRunStopsOnCancel(t *testing.T) {
	l := blockingListener{started: make(chan struct{})}
	s := NewScheduler(nil, jobsConfig(time.Hour), map[string]tasks.ScheduledTaskFunc{})
	b := NewBot(nil, l, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-l.started
	assert.Eventually(t, func() bool { return s.Status().Running }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, s.Status().Running)
}

func TestRunFailsWhenListenerExits(t *testing.T) {
	s := NewScheduler(nil, jobsConfig(time.Hour), map[string]tasks.ScheduledTaskFunc{})
	err := NewBot(nil, returningListener{}, s, nil).Run(context.Background())
	assert.ErrorContains(t, err, "stopped unexpectedly")
	assert.False(t, s.Status().Running)
}
