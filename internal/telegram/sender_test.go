package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/database"
)

type fakeClient struct {
	sent      []*bot.SendMessageParams
	actions   int
	sendErr   error
	actionErr error
}

func (f *fakeClient) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, p)
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeClient) SendChatAction(context.Context, *bot.SendChatActionParams) (bool, error) {
	f.actions++
	return f.actionErr == nil, f.actionErr
}

func TestSenderSend(t *testing.T) {
	c := &fakeClient{actionErr: errors.New("rate limited")}
	s := NewSender(c, nil)
	conv := &database.Conversation{ID: "c1", Platform: "telegram", ParticipantID: "12345"}

	require.NoError(t, s.Send(context.Background(), conv, "Hello!"), "typing failures are ignored")
	require.Len(t, c.sent, 1)
	assert.Equal(t, int64(12345), c.sent[0].ChatID)
	assert.Equal(t, "Hello!", c.sent[0].Text)
	assert.Equal(t, 1, c.actions)
}

func TestSenderErrors(t *testing.T) {
	c := &fakeClient{}
	s := NewSender(c, nil)
	ctx := context.Background()

	assert.Error(t, s.Send(ctx, &database.Conversation{ID: "c1", Platform: "sandbox", ParticipantID: "1"}, "x"))
	assert.Error(t, s.Send(ctx, &database.Conversation{ID: "c1", Platform: "telegram", ParticipantID: "abc"}, "x"))

	c.sendErr = errors.New("bot was blocked by the user")
	err := s.Send(ctx, &database.Conversation{ID: "c1", Platform: "telegram", ParticipantID: "1"}, "x")
	assert.ErrorContains(t, err, "blocked")
	assert.Empty(t, c.sent)
}
