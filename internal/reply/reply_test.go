package reply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/knowledge"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/llm/llmtest"
)

func baseInput() Input {
	settings := database.DefaultSettings("ws", time.Now())
	settings.BusinessPolicy = "We sell handmade candles."
	return Input{
		Settings: settings,
		Category: database.MessageCategory{
			Name: "Pricing", Description: "Questions about prices", AIPolicy: domain.PolicyAssistOnly,
		},
		Language:     "pt",
		Translation:  "How much is it?",
		CustomerText: "Quanto custa?",
		History: []database.Message{
			{Role: domain.RoleCustomer, Body: "Oi"},
			{Role: domain.RoleAssistant, Body: "Olá! Como posso ajudar?"},
		},
		Goal: GoalState{
			Primary: domain.IntentCaptureLead, Secondary: domain.IntentNone,
			Detected: domain.IntentCaptureLead, Active: domain.IntentCaptureLead, Status: "collecting",
			Collected: map[string]string{"name": "Ana"},
			Missing:   []domain.GoalField{{Key: "phone", Label: "phone number", Collect: true}},
		},
		Knowledge: knowledge.Context{Entries: []knowledge.Entry{{Title: "Hours", Body: "9 to 5"}}},
		Source:    domain.SourceLive,
	}
}

func TestBuildContext(t *testing.T) {
	t.Parallel()

	pc := BuildContext(baseInput())
	assert.Equal(t, "pt", pc.ReplyLanguage)
	assert.Contains(t, pc.Rules, "Reply in 1 to 3 short sentences.")
	assert.Contains(t, pc.Rules, "Do not use hashtags.")
	assert.Contains(t, pc.Rules, "Do not use emojis.")
	assert.Contains(t, pc.CategoryPolicy, "Category: Pricing")
	assert.Contains(t, pc.CategoryPolicy, `reply in "pt"`)
	assert.Contains(t, pc.Goal, "Active goal: capture_lead (collecting)")
	assert.Contains(t, pc.Goal, "name=Ana")
	assert.Contains(t, pc.Goal, `phone number (key "phone")`)
	assert.Contains(t, pc.Knowledge, "Hours: 9 to 5")
	require.Len(t, pc.History, 2)
	assert.Equal(t, "Quanto custa?\n(English: How much is it?)", pc.Latest)
	assert.False(t, pc.Sandbox)

	t.Run("reply language setting wins", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.Settings.ReplyLanguage = "en"
		assert.Equal(t, "en", BuildContext(in).ReplyLanguage)
	})

	t.Run("latest falls back to history", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.CustomerText = ""
		in.Translation = ""
		assert.Equal(t, "Oi", BuildContext(in).Latest)
	})

	t.Run("media", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.Attachments = []domain.Attachment{
			{Type: domain.AttachmentImage, Data: []byte{1, 2}},
			{Type: domain.AttachmentVideo, URL: "https://cdn/x.mp4"},
			{Type: domain.AttachmentAudio, Transcription: "call me back"},
			{Type: domain.AttachmentFile, URL: "https://cdn/menu.pdf"},
		}
		pc := BuildContext(in)
		require.Len(t, pc.Media, 2)
		assert.Equal(t, "image/jpeg", pc.Media[0].MIMEType)
		assert.Equal(t, "video/mp4", pc.Media[1].MIMEType)
		assert.Contains(t, pc.Latest, "[audio transcription] call me back")
		assert.Contains(t, pc.Latest, "[file attached]")

		req := pc.Request(Options{})
		require.Len(t, req.Messages, 1)
		parts := req.Messages[0].Parts
		require.Len(t, parts, 3)
		assert.Equal(t, []byte{1, 2}, parts[1].Data)
		assert.Equal(t, "https://cdn/x.mp4", parts[2].MediaURI)
	})
}

func TestRequest(t *testing.T) {
	t.Parallel()

	temp := float32(0.2)
	req := BuildContext(baseInput()).Request(Options{Model: "m", Temperature: &temp})
	assert.Equal(t, llm.OpReply, req.Operation)
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, &temp, req.Temperature)
	assert.Contains(t, req.System, "1. Never commit to a price")
	assert.ElementsMatch(t, []string{"replyText", "shouldEscalate", "escalationReason", "tags"}, req.Schema.Required)

	body := req.Messages[0].Parts[0].Text
	assert.Contains(t, body, "## Business policy\nWe sell handmade candles.")
	assert.Contains(t, body, "Customer: Oi\nAssistant: Olá! Como posso ajudar?")
	assert.Contains(t, body, "## Latest customer message\nQuanto custa?")
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("decision and collected fields", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().Respond(llm.OpReply, map[string]any{
			"replyText":        "It is 10 euros. Could I have your phone number?",
			"shouldEscalate":   false,
			"escalationReason": "",
			"tags":             []string{"pricing"},
			"collectedFields":  []map[string]string{{"key": "name", "value": "Ana"}, {"key": "", "value": "x"}},
		})
		res := NewGenerator(client, time.Second, nil).Generate(ctx, baseInput(), Options{})
		assert.False(t, res.Fallback)
		assert.False(t, res.Decision.ShouldEscalate)
		assert.Equal(t, map[string]string{"name": "Ana"}, res.Decision.CollectedFields)
	})

	t.Run("failure escalates with fixed text", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().Fail(llm.OpReply, errors.New("upstream 500"))
		res := NewGenerator(client, time.Second, nil).Generate(ctx, baseInput(), Options{})
		assert.True(t, res.Fallback)
		assert.Equal(t, "Thanks for reaching out! A teammate will follow up shortly.", res.Decision.ReplyText)
		assert.True(t, res.Decision.ShouldEscalate)
	})

	t.Run("timeout escalates", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().On(llm.OpReply, func(llm.Request) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return `{"replyText":"late","shouldEscalate":false,"escalationReason":"","tags":[]}`, nil
		})
		res := NewGenerator(client, 10*time.Millisecond, nil).Generate(ctx, baseInput(), Options{})
		assert.True(t, res.Fallback)
		assert.True(t, res.Decision.ShouldEscalate)
	})

	t.Run("unparseable output escalates", func(t *testing.T) {
		t.Parallel()
		client := llmtest.New().On(llm.OpReply, func(llm.Request) (string, error) { return "sure! here you go", nil })
		res := NewGenerator(client, time.Second, nil).Generate(ctx, baseInput(), Options{})
		assert.True(t, res.Fallback)
	})
}
