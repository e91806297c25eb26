package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/inboxpilot/internal/domain"
)

func TestHoldDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minutes int
		want    time.Duration
	}{
		{0, 60 * time.Minute},
		{-3, 60 * time.Minute},
		{1, 5 * time.Minute},
		{5, 5 * time.Minute},
		{90, 90 * time.Minute},
		{720, 720 * time.Minute},
		{10000, 720 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HoldDuration(tt.minutes), "minutes=%d", tt.minutes)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, Evaluate(nil, 60, domain.HoldAISilent, at).Held)

	h := Evaluate(&at, 60, domain.HoldAISilent, at.Add(59*time.Minute))
	assert.True(t, h.Held)
	assert.True(t, h.Silent)
	assert.Equal(t, at.Add(time.Hour), h.Until)

	h = Evaluate(&at, 60, domain.HoldAIAllowed, at.Add(10*time.Minute))
	assert.True(t, h.Held)
	assert.False(t, h.Silent)

	assert.False(t, Evaluate(&at, 60, domain.HoldAISilent, at.Add(time.Hour)).Held, "hold expires")
	assert.True(t, Evaluate(&at, 1, domain.HoldAISilent, at.Add(4*time.Minute)).Held, "clamped to five minutes")
}
