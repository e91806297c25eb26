package openai

import (
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/llm"
)

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(config.LLMConfig{Model: "gpt-4o-mini"}, nil)
	assert.ErrorIs(t, err, llm.ErrNoCredentials)
}

func TestBuildMessages(t *testing.T) {
	t.Parallel()

	req := llm.Request{
		System: "You classify messages.",
		Schema: &llm.Schema{Type: llm.TypeObject, Required: []string{"intent"}},
		Messages: []llm.Message{
			llm.Text(llm.RoleUser, "first"),
			llm.Text(llm.RoleModel, "reply"),
			{Role: llm.RoleUser, Parts: []llm.Part{
				{Text: "look"},
				{Data: []byte("img"), MIMEType: "image/png"},
				{MediaURI: "https://example.com/clip.mp4", MIMEType: "video/mp4"},
			}},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 4)

	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "You classify messages."))
	assert.Contains(t, msgs[0].Content, `"required":["intent"]`)

	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)

	require.Len(t, msgs[3].MultiContent, 3)
	assert.Equal(t, openai.ChatMessagePartTypeText, msgs[3].MultiContent[0].Type)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msgs[3].MultiContent[1].Type)
	assert.True(t, strings.HasPrefix(msgs[3].MultiContent[1].ImageURL.URL, "data:image/png;base64,"))
	assert.Contains(t, msgs[3].MultiContent[2].Text, "clip.mp4")
}
