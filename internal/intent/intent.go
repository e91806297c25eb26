// Package intent detects goal-oriented intents in customer text.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/llm"
)

// Options carries per-workspace model overrides.
type Options struct {
	Model           string
	Temperature     *float32
	ReasoningBudget *int32
}

// Detector asks the language model for an intent and falls back to keyword
// matching when the model is unavailable.
type Detector struct {
	client llm.Client
	log    *slog.Logger
}

func New(client llm.Client, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{client: client, log: log.With("component", "intent")}
}

const systemPrompt = `You label the goal behind a customer message sent to a business.
Answer with one intent:
- book_appointment: wants to book, reschedule or reserve a time
- start_order: wants to buy or order something
- handle_support: reports a problem with something they already have
- capture_lead: shares contact details or asks to be contacted, or shows buying interest without a concrete order
- drive_to_channel: asks to move the conversation to another channel (phone, WhatsApp, email, website)
- none: anything else`

var schema = func() *llm.Schema {
	labels := make([]string, len(domain.Intents))
	for i, in := range domain.Intents {
		labels[i] = string(in)
	}
	return &llm.Schema{
		Type:       llm.TypeObject,
		Properties: map[string]*llm.Schema{"intent": {Type: llm.TypeString, Enum: labels}},
		Required:   []string{"intent"},
	}
}()

// Detect is total: it returns a label from the closed set for every input,
// and IntentNone for empty text.
func (d *Detector) Detect(ctx context.Context, text string, opts Options) domain.Intent {
	if strings.TrimSpace(text) == "" {
		return domain.IntentNone
	}

	var answer struct {
		Intent string `json:"intent"`
	}
	err := d.client.GenerateJSON(ctx, llm.Request{
		Operation:       llm.OpIntent,
		System:          systemPrompt,
		Messages:        []llm.Message{llm.Text(llm.RoleUser, text)},
		Schema:          schema,
		Model:           opts.Model,
		Temperature:     opts.Temperature,
		ReasoningBudget: opts.ReasoningBudget,
	}, &answer)
	if err != nil {
		in := FallbackIntent(text)
		if errors.Is(err, llm.ErrNoCredentials) {
			d.log.DebugContext(ctx, "No model configured, using keyword intent", "intent", in)
		} else {
			d.log.WarnContext(ctx, "Intent detection failed, using keyword intent", "intent", in, "error", err)
		}
		return in
	}
	return domain.ParseIntent(answer.Intent)
}

// GoalMatchesWorkspace reports whether in is one of the workspace goals.
// IntentNone never matches.
func GoalMatchesWorkspace(in, primary, secondary domain.Intent) bool {
	if in == domain.IntentNone || in == "" {
		return false
	}
	return in == primary || in == secondary
}
