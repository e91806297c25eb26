package reply

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/llm"
)

// FallbackReason is recorded when the generator could not produce a decision.
const FallbackReason = "Automatic reply unavailable"

// Options carries per-workspace model overrides.
type Options struct {
	Model           string
	Temperature     *float32
	ReasoningBudget *int32
}

// Result is a raw decision, before policy enforcement.
type Result struct {
	Decision domain.Decision
	Fallback bool
}

type modelAnswer struct {
	ReplyText        string   `json:"replyText"`
	ShouldEscalate   bool     `json:"shouldEscalate"`
	EscalationReason string   `json:"escalationReason"`
	Tags             []string `json:"tags"`
	CollectedFields  []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"collectedFields"`
}

// Generator calls the language model for a decision.
type Generator struct {
	client  llm.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewGenerator bounds every call by timeout when it is positive.
func NewGenerator(client llm.Client, timeout time.Duration, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{client: client, timeout: timeout, log: log.With("component", "reply")}
}

// Fallback is the decision used whenever generation fails. It always escalates.
func Fallback() domain.Decision {
	return domain.Decision{
		ReplyText:        domain.FallbackReply,
		ShouldEscalate:   true,
		EscalationReason: FallbackReason,
	}
}

// Generate returns the model decision, or Fallback on any failure including
// timeout and unparseable output.
func (g *Generator) Generate(ctx context.Context, in Input, opts Options) Result {
	pc := BuildContext(in)
	if pc.Latest == "" && len(pc.Media) == 0 {
		g.log.WarnContext(ctx, "Nothing to reply to, using fallback")
		return Result{Decision: Fallback(), Fallback: true}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var answer modelAnswer
	if err := g.client.GenerateJSON(ctx, pc.Request(opts), &answer); err != nil {
		g.log.ErrorContext(ctx, "Reply generation failed, escalating", "error", err)
		return Result{Decision: Fallback(), Fallback: true}
	}
	if strings.TrimSpace(answer.ReplyText) == "" && !answer.ShouldEscalate {
		g.log.WarnContext(ctx, "Model returned an empty reply, escalating")
		return Result{Decision: Fallback(), Fallback: true}
	}

	d := domain.Decision{
		ReplyText:        strings.TrimSpace(answer.ReplyText),
		ShouldEscalate:   answer.ShouldEscalate,
		EscalationReason: strings.TrimSpace(answer.EscalationReason),
		Tags:             answer.Tags,
	}
	for _, f := range answer.CollectedFields {
		k, v := strings.TrimSpace(f.Key), strings.TrimSpace(f.Value)
		if k == "" || v == "" {
			continue
		}
		if d.CollectedFields == nil {
			d.CollectedFields = make(map[string]string)
		}
		d.CollectedFields[k] = v
	}
	g.log.DebugContext(ctx, "Reply generated",
		"escalate", d.ShouldEscalate, "tags", d.Tags, "collected", len(d.CollectedFields), "media", len(pc.Media))
	return Result{Decision: d}
}
