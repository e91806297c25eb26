package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/llm/llmtest"
)

func seed(t *testing.T) (*database.MemoryStore, database.MessageCategory) {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore()

	cats, err := store.EnsureCategories(ctx, "ws")
	require.NoError(t, err)
	var pricing database.MessageCategory
	for _, c := range cats {
		if c.Name == "Pricing" {
			pricing = c
		}
	}
	require.NotEmpty(t, pricing.ID)

	require.NoError(t, store.AddKnowledgeEntry(ctx, &database.KnowledgeEntry{WorkspaceID: "ws", Title: "Hours", Body: "Open 9 to 5 on weekdays."}))
	require.NoError(t, store.AddKnowledgeEntry(ctx, &database.KnowledgeEntry{WorkspaceID: "ws", Title: "Delivery", Body: "Delivery costs 5 euros."}))
	require.NoError(t, store.UpsertCategoryKnowledge(ctx, &database.CategoryKnowledge{
		WorkspaceID: "ws", CategoryID: pricing.ID, Guidance: "Never quote discounts.",
	}))
	return store, pricing
}

// embedByKeyword puts texts that mention "deliver" on one axis and everything
// else on the other.
func embedByKeyword(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, s := range texts {
		if strings.Contains(strings.ToLower(s), "deliver") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, pricing := seed(t)

	t.Run("entries then labeled category guidance", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(store, llmtest.New(), 5, 1500, nil)
		kc, err := r.Resolve(ctx, "ws", &pricing, "")
		require.NoError(t, err)

		require.Len(t, kc.Entries, 2)
		assert.Equal(t, "Pricing", kc.CategoryName)
		assert.Equal(t, "Never quote discounts.", kc.CategoryGuidance)

		s := kc.String()
		assert.Less(t, strings.Index(s, "Hours"), strings.Index(s, "Guidance for Pricing:"))
	})

	t.Run("rerank by similarity", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().OnEmbed(embedByKeyword)
		r := NewResolver(store, client, 1, 1500, nil)
		kc, err := r.Resolve(ctx, "ws", nil, "how much is delivery?")
		require.NoError(t, err)
		require.Len(t, kc.Entries, 1)
		assert.Equal(t, "Delivery", kc.Entries[0].Title)
		assert.Empty(t, kc.CategoryGuidance)
	})

	t.Run("embedding failure passes through", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().OnEmbed(func([]string) ([][]float32, error) { return nil, errors.New("quota") })
		r := NewResolver(store, client, 1, 1500, nil)
		kc, err := r.Resolve(ctx, "ws", nil, "how much is delivery?")
		require.NoError(t, err)
		require.Len(t, kc.Entries, 1)
		assert.Equal(t, "Hours", kc.Entries[0].Title)
	})

	t.Run("empty workspace is well formed", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(database.NewMemoryStore(), llmtest.New(), 5, 1500, nil)
		kc, err := r.Resolve(ctx, "other", &database.MessageCategory{ID: "x", Name: "Support"}, "hi")
		require.NoError(t, err)
		assert.True(t, kc.Empty())
		assert.Empty(t, kc.String())
	})

	t.Run("token budget trims entries", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(store, llmtest.New(), 5, 1, nil)
		kc, err := r.Resolve(ctx, "ws", nil, "")
		require.NoError(t, err)
		assert.Empty(t, kc.Entries)
	})
}
