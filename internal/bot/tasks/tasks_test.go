package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/followup"
)

type fakeFollowUps struct {
	stats followup.Stats
	err   error
}

func (f fakeFollowUps) Run(context.Context) (followup.Stats, error) { return f.stats, f.err }

type fakeBuffer struct{ stats buffer.Stats }

func (f fakeBuffer) ProcessDue(context.Context) buffer.Stats { return f.stats }

type fakeReports struct {
	built int
	err   error
}

func (f fakeReports) RebuildPreviousDay(context.Context) (int, error) { return f.built, f.err }

func TestRegisterAllTasks(t *testing.T) {
	t.Parallel()

	assert.Empty(t, RegisterAllTasks(TaskDeps{}))

	all := RegisterAllTasks(TaskDeps{
		Store:     database.NewMemoryStore(),
		FollowUps: fakeFollowUps{},
		Buffer:    fakeBuffer{},
		Reports:   fakeReports{},
	})
	assert.Len(t, all, 4)
	for _, name := range []string{config.JobFollowUp, config.JobBufferFlush, config.JobDailyReport, config.JobMaintenance} {
		assert.Contains(t, all, name)
	}
}

func TestTaskErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	all := RegisterAllTasks(TaskDeps{
		FollowUps: fakeFollowUps{err: errors.New("db down")},
		Buffer:    fakeBuffer{stats: buffer.Stats{Flushed: 3, Failed: 1}},
		Reports:   fakeReports{built: 2, err: errors.New("one workspace failed")},
	})
	assert.ErrorContains(t, all[config.JobFollowUp](ctx), "db down")
	assert.ErrorContains(t, all[config.JobBufferFlush](ctx), "1 of 4")
	assert.ErrorContains(t, all[config.JobDailyReport](ctx), "after 2 workspaces")

	ok := RegisterAllTasks(TaskDeps{
		FollowUps: fakeFollowUps{stats: followup.Stats{Processed: 2, Sent: 1, Cancelled: 1}},
		Buffer:    fakeBuffer{stats: buffer.Stats{Flushed: 2}},
		Reports:   fakeReports{built: 3},
	})
	for name, fn := range ok {
		assert.NoError(t, fn(ctx), name)
	}
}

func TestStoreMaintenanceTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := database.NewMemoryStore()

	conv, err := store.GetOrCreateConversation(ctx, "ws", "telegram", "1", "")
	require.NoError(t, err)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fu := &database.FollowUp{ConversationID: conv.ID, WorkspaceID: "ws", AnchorAt: at, DueAt: at, DeadlineAt: at.Add(time.Hour)}
	require.NoError(t, store.ScheduleFollowUp(ctx, fu))
	claimed, err := store.ClaimFollowUp(ctx, fu.ID, at)
	require.NoError(t, err)
	require.True(t, claimed)

	task := RegisterAllTasks(TaskDeps{
		Store:              store,
		FollowUpStaleAfter: time.Hour,
		Now:                func() time.Time { return at.Add(2 * time.Hour) },
	})[config.JobMaintenance]
	require.NoError(t, task(ctx))

	got, ok := store.FollowUp(fu.ID)
	require.True(t, ok)
	assert.Equal(t, database.FollowUpFailed, got.Status)
	assert.Equal(t, database.AbandonedFollowUp, got.LastError)
}
