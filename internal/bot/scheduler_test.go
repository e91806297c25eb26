package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/inboxpilot/internal/bot/tasks"
	"github.com/edgard/inboxpilot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func jobsConfig(interval time.Duration, names ...string) config.SchedulerConfig {
	cfg := config.SchedulerConfig{Jobs: map[string]config.JobConfig{}}
	for _, n := range names {
		cfg.Jobs[n] = config.JobConfig{Enabled: true, Interval: interval}
	}
	return cfg
}

func statusOf(s *Scheduler, name string) JobStatus {
	for _, j := range s.Status().Jobs {
		if j.Name == name {
			return j
		}
	}
	return JobStatus{}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(nil, jobsConfig(time.Hour, "a", "b"), map[string]tasks.ScheduledTaskFunc{
		"a":         func(context.Context) error { runs.Add(1); return nil },
		"b":         func(context.Context) error { return nil },
		"no_config": func(context.Context) error { return nil },
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	st := s.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Jobs, 2, "second start adds no jobs and unconfigured tasks are ignored")
	assert.Equal(t, "a", st.Jobs[0].Name)
	assert.Equal(t, "1h0m0s", st.Jobs[0].Interval)

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond,
		"jobs run once immediately on start")
	assert.Eventually(t, func() bool { return statusOf(s, "a").NextRun != nil }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	st = s.Status()
	assert.False(t, st.Running)
	assert.Len(t, st.Jobs, 2)
	assert.Nil(t, st.Jobs[0].NextRun)

	require.NoError(t, s.Start(), "a stopped scheduler can start again")
	require.NoError(t, s.Stop())
}

func TestSchedulerFailuresDoNotStopTicks(t *testing.T) {
	var okRuns, errRuns, panicRuns atomic.Int32
	s := NewScheduler(nil, jobsConfig(20*time.Millisecond, "ok", "fails", "panics"), map[string]tasks.ScheduledTaskFunc{
		"ok":     func(context.Context) error { okRuns.Add(1); return nil },
		"fails":  func(context.Context) error { errRuns.Add(1); return errors.New("boom") },
		"panics": func(context.Context) error { panicRuns.Add(1); panic("kaboom") },
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	assert.Eventually(t, func() bool {
		return okRuns.Load() >= 3 && errRuns.Load() >= 3 && panicRuns.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	fails := statusOf(s, "fails")
	assert.Equal(t, fails.Runs, fails.Failures)
	assert.Equal(t, "boom", fails.LastError)
	assert.Contains(t, statusOf(s, "panics").LastError, "kaboom")
	assert.Zero(t, statusOf(s, "ok").Failures)
}

func TestSchedulerDisabledJob(t *testing.T) {
	var runs atomic.Int32
	cfg := config.SchedulerConfig{Jobs: map[string]config.JobConfig{"off": {Enabled: false, Interval: 10 * time.Millisecond}}}
	s := NewScheduler(nil, cfg, map[string]tasks.ScheduledTaskFunc{
		"off": func(context.Context) error { runs.Add(1); return nil },
	})
	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.Zero(t, runs.Load())
	st := statusOf(s, "off")
	assert.False(t, st.Enabled)

	require.NoError(t, s.Trigger(context.Background(), "off"), "disabled jobs can still be triggered")
	assert.Equal(t, int32(1), runs.Load())
}

func TestTriggerFollowupProcessing(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	s := NewScheduler(nil, jobsConfig(time.Hour, config.JobFollowUp), map[string]tasks.ScheduledTaskFunc{
		config.JobFollowUp: func(ctx context.Context) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
	})

	assert.ErrorIs(t, s.Trigger(context.Background(), "nope"), ErrUnknownJob)

	done := make(chan error, 1)
	go func() { done <- s.TriggerFollowupProcessing(context.Background()) }()
	<-started

	assert.True(t, statusOf(s, config.JobFollowUp).Running)
	assert.ErrorIs(t, s.TriggerFollowupProcessing(context.Background()), ErrJobRunning)

	close(release)
	require.NoError(t, <-done)
	st := statusOf(s, config.JobFollowUp)
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.Runs)
	require.NotNil(t, st.LastRun)
}
