// Package sandbox replays scripted conversations through the decision cycle
// against an in-memory copy of the workspace, without touching the channel
// or the stored conversations.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/pipeline"
)

// Request selects what to replay. Exactly one of ScenarioID, Scenario or
// Messages is used, in that order of precedence.
type Request struct {
	WorkspaceID string            `json:"workspace_id"`
	ScenarioID  string            `json:"scenario_id,omitempty"`
	Scenario    *Scenario         `json:"scenario,omitempty"`
	Messages    []string          `json:"messages,omitempty"`
	Settings    *SettingsOverride `json:"settings,omitempty"`
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Step              int           `yaml:"step"                        json:"step"`
	Customer          string        `yaml:"customer"                    json:"customer"`
	Category          string        `yaml:"category,omitempty"          json:"category,omitempty"`
	Confidence        float64       `yaml:"confidence,omitempty"        json:"confidence,omitempty"`
	Language          string        `yaml:"language,omitempty"          json:"language,omitempty"`
	Intent            domain.Intent `yaml:"intent,omitempty"            json:"intent,omitempty"`
	GoalMatched       bool          `yaml:"goal_matched"                json:"goal_matched"`
	Goal              domain.Intent `yaml:"goal,omitempty"              json:"goal,omitempty"`
	GoalStatus        string        `yaml:"goal_status,omitempty"       json:"goal_status,omitempty"`
	Reply             string        `yaml:"reply,omitempty"             json:"reply,omitempty"`
	Tags              []string      `yaml:"tags,omitempty"              json:"tags,omitempty"`
	Escalated         bool          `yaml:"escalated"                   json:"escalated"`
	EscalationReason  string        `yaml:"escalation_reason,omitempty" json:"escalation_reason,omitempty"`
	EscalationCreated bool          `yaml:"escalation_created"          json:"escalation_created"`
	Skipped           bool          `yaml:"skipped,omitempty"           json:"skipped,omitempty"`
	SkipReason        string        `yaml:"skip_reason,omitempty"       json:"skip_reason,omitempty"`
	Fallback          bool          `yaml:"fallback,omitempty"          json:"fallback,omitempty"`
}

// Result is a complete replay.
type Result struct {
	ScenarioID       string                     `yaml:"scenario_id"       json:"scenario_id"`
	Steps            []StepResult               `yaml:"steps"             json:"steps"`
	SettingsSnapshot database.WorkspaceSettings `yaml:"settings_snapshot" json:"settings_snapshot"`
}

// Runner replays scenarios. Conversations, messages, goals and escalations
// of a run live only in its overlay store.
type Runner struct {
	source database.Store
	client llm.Client
	cfg    pipeline.Config
	log    *slog.Logger
}

func NewRunner(source database.Store, client llm.Client, cfg pipeline.Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{source: source, client: client, cfg: cfg, log: log.With("component", "sandbox")}
}

// Run replays req and returns every step. Collaborator failures show up as
// fallback steps; only reading the workspace or an invalid request fails.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return nil, fmt.Errorf("%w: workspace id is required", ErrInvalidRequest)
	}
	sc, err := resolve(req)
	if err != nil {
		return nil, err
	}

	overlay, settings, err := r.overlay(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if err := sc.Settings.Apply(settings); err != nil {
		return nil, fmt.Errorf("%w: scenario settings: %w", ErrInvalidRequest, err)
	}
	if err := req.Settings.Apply(settings); err != nil {
		return nil, fmt.Errorf("%w: settings: %w", ErrInvalidRequest, err)
	}
	settings.FollowUpEnabled = false
	if err := overlay.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to stage sandbox settings: %w", err)
	}

	conv := database.Conversation{
		ID:              "sandbox-" + uuid.NewString(),
		WorkspaceID:     req.WorkspaceID,
		ParticipantID:   "sandbox",
		ParticipantName: "Sandbox",
		Platform:        "sandbox",
		CreatedAt:       time.Now().UTC(),
	}
	overlay.PutConversation(conv)

	engine := pipeline.New(pipeline.Deps{Store: overlay, LLM: r.client}, r.cfg, r.log)
	log := r.log.With("scenario", sc.ID, "workspace_id", req.WorkspaceID)
	log.InfoContext(ctx, "Sandbox run started", "steps", len(sc.Steps))

	res := &Result{ScenarioID: sc.ID, SettingsSnapshot: *settings}
	for i, st := range sc.Steps {
		customer := stepText(st)
		out, err := engine.RunDecisionCycle(ctx, pipeline.CycleInput{
			ConversationID: conv.ID,
			WorkspaceID:    req.WorkspaceID,
			CustomerText:   customer,
			Source:         domain.SourceSandbox,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox step %d: %w", i+1, err)
		}
		res.Steps = append(res.Steps, stepResult(i+1, customer, out))
	}
	log.InfoContext(ctx, "Sandbox run finished", "steps", len(res.Steps))
	return res, nil
}

func resolve(req Request) (*Scenario, error) {
	switch {
	case req.ScenarioID != "":
		return Lookup(req.ScenarioID)
	case req.Scenario != nil:
		if err := req.Scenario.validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if req.Scenario.ID == "" {
			req.Scenario.ID = "custom"
		}
		return req.Scenario, nil
	case len(req.Messages) > 0:
		sc, err := AdHoc(req.Messages)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return sc, nil
	}
	return nil, fmt.Errorf("%w: a scenario id, a scenario or messages are required", ErrInvalidRequest)
}

// stepText joins the messages of a step the way the buffer joins a burst.
func stepText(st Step) string {
	e := buffer.Entry{}
	for _, m := range st.Messages {
		e.Items = append(e.Items, buffer.Item{Text: m})
	}
	return e.Text()
}

// overlay copies the workspace policy into a fresh in-memory store.
// Category ids are kept so guidance stays attached.
func (r *Runner) overlay(ctx context.Context, ws string) (*database.MemoryStore, *database.WorkspaceSettings, error) {
	settings, err := r.source.GetSettings(ctx, ws)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings for %s: %w", ws, err)
	}
	cats, err := r.source.EnsureCategories(ctx, ws)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load categories for %s: %w", ws, err)
	}
	entries, err := r.source.ListKnowledgeEntries(ctx, ws)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load knowledge for %s: %w", ws, err)
	}

	mem := database.NewMemoryStore()
	for i := range cats {
		c := cats[i]
		if err := mem.UpsertCategory(ctx, &c); err != nil {
			return nil, nil, fmt.Errorf("failed to copy category %q: %w", c.Name, err)
		}
		ck, err := r.source.GetCategoryKnowledge(ctx, ws, c.ID)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return nil, nil, fmt.Errorf("failed to load guidance for %q: %w", c.Name, err)
		default:
			if err := mem.UpsertCategoryKnowledge(ctx, ck); err != nil {
				return nil, nil, fmt.Errorf("failed to copy guidance for %q: %w", c.Name, err)
			}
		}
	}
	for i := range entries {
		if err := mem.AddKnowledgeEntry(ctx, &entries[i]); err != nil {
			return nil, nil, fmt.Errorf("failed to copy knowledge entry: %w", err)
		}
	}
	return mem, settings, nil
}

func stepResult(n int, customer string, out *pipeline.CycleResult) StepResult {
	sr := StepResult{
		Step:              n,
		Customer:          customer,
		Skipped:           out.Skipped,
		SkipReason:        out.SkipReason,
		Fallback:          out.Fallback,
		EscalationCreated: out.EscalationCreated,
	}
	if out.Skipped {
		return sr
	}
	sr.Category = out.Classification.CategoryName
	sr.Confidence = out.Classification.Confidence
	sr.Language = out.Classification.Language
	sr.Intent = out.Intent
	sr.GoalMatched = out.GoalMatched
	if out.Goal.Active() {
		sr.Goal = out.Goal.Goal
		sr.GoalStatus = string(out.Goal.Status)
	}
	sr.Reply = out.Decision.ReplyText
	sr.Tags = out.Decision.Tags
	sr.Escalated = out.Decision.ShouldEscalate
	sr.EscalationReason = out.Decision.EscalationReason
	return sr
}
