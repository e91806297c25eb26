package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
)

func TestPreviousDay(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC-3", -3*3600)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), PreviousDay(time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), PreviousDay(time.Date(2026, 4, 1, 22, 0, 0, 0, loc)))
}

func TestRebuildPreviousDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	store := database.NewMemoryStore()
	store.SetClock(func() time.Time { return day.Add(10 * time.Hour) })
	cats, err := store.EnsureCategories(ctx, "acme")
	require.NoError(t, err)

	conv, err := store.GetOrCreateConversation(ctx, "acme", "telegram", "1", "")
	require.NoError(t, err)
	for _, m := range []database.Message{
		{Role: domain.RoleCustomer, Body: "how much?", CreatedAt: day.Add(9 * time.Hour)},
		{Role: domain.RoleAssistant, Body: "20", CreatedAt: day.Add(9*time.Hour + time.Minute)},
		{Role: domain.RoleCustomer, Body: "next day", CreatedAt: day.Add(25 * time.Hour)},
	} {
		m.ConversationID, m.WorkspaceID = conv.ID, "acme"
		require.NoError(t, store.AppendMessage(ctx, &m))
	}
	require.NoError(t, store.AnnotateMessages(ctx, []int64{1}, database.MessageAnnotation{CategoryID: cats[0].ID}))
	require.NoError(t, store.CreateEscalation(ctx, &database.Escalation{
		ConversationID: conv.ID, WorkspaceID: "acme", CreatedAt: day.Add(11 * time.Hour),
	}))

	b := New(store, nil)
	b.SetClock(func() time.Time { return day.Add(30 * time.Hour) })
	n, err := b.RebuildPreviousDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r, err := store.GetDailyReport(ctx, "acme", "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Inbound)
	assert.Equal(t, 1, r.Replies)
	assert.Equal(t, 1, r.Escalations)
	assert.Equal(t, 1, r.Categories[cats[0].Name])
}
