package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, workspace, want string
	}{
		{"inbox.escalations", "acme", "inbox.escalations.acme"},
		{"inbox.escalations.", "acme", "inbox.escalations.acme"},
		{"alerts", "acme.eu", "alerts.acme_eu"},
		{"alerts", "a b*>", "alerts.a_b__"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.prefix, tt.workspace))
	}
}

func TestNoop(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Noop{}.Notify(context.Background(), Alert{WorkspaceID: "w"}))
}
