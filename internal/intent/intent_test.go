package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/llm/llmtest"
)

func TestFallbackIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want domain.Intent
	}{
		{"", domain.IntentNone},
		{"   ", domain.IntentNone},
		{"hello there", domain.IntentNone},
		{"My blender stopped working", domain.IntentHandleSupport},
		{"Can I book for Friday?", domain.IntentBookAppointment},
		{"I want to ORDER two boxes", domain.IntentStartOrder},
		{"Please call me at 555 0101", domain.IntentCaptureLead},
		{"Do you have WhatsApp?", domain.IntentDriveToChannel},
		{"I want to book again but the last one was broken", domain.IntentHandleSupport},
		{"I'd like to order, can you call me?", domain.IntentStartOrder},
		{"bookshelf", domain.IntentNone},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FallbackIntent(tt.text))
		})
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty text skips the model", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().Respond(llm.OpIntent, map[string]string{"intent": "start_order"})
		assert.Equal(t, domain.IntentNone, New(client, nil).Detect(ctx, " ", Options{}))
		assert.Empty(t, client.Calls(llm.OpIntent))
	})

	t.Run("model answer", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().Respond(llm.OpIntent, map[string]string{"intent": "book_appointment"})
		assert.Equal(t, domain.IntentBookAppointment, New(client, nil).Detect(ctx, "tomorrow works", Options{}))
	})

	t.Run("unknown label becomes none", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().Respond(llm.OpIntent, map[string]string{"intent": "buy_stuff"})
		assert.Equal(t, domain.IntentNone, New(client, nil).Detect(ctx, "I want to order", Options{}))
	})

	t.Run("failure falls back to keywords", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().Fail(llm.OpIntent, errors.New("timeout"))
		assert.Equal(t, domain.IntentStartOrder, New(client, nil).Detect(ctx, "I want to order", Options{}))
	})

	t.Run("no credentials falls back to keywords", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, domain.IntentBookAppointment, New(llm.Disabled{}, nil).Detect(ctx, "book me in", Options{}))
	})
}

func TestGoalMatchesWorkspace(t *testing.T) {
	t.Parallel()

	assert.True(t, GoalMatchesWorkspace(domain.IntentCaptureLead, domain.IntentCaptureLead, domain.IntentNone))
	assert.True(t, GoalMatchesWorkspace(domain.IntentStartOrder, domain.IntentCaptureLead, domain.IntentStartOrder))
	assert.False(t, GoalMatchesWorkspace(domain.IntentNone, domain.IntentNone, domain.IntentNone))
	assert.False(t, GoalMatchesWorkspace(domain.IntentBookAppointment, domain.IntentCaptureLead, domain.IntentStartOrder))
}
