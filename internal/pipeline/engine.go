// Package pipeline runs the decision cycle: classify, detect intent, track
// the goal, resolve knowledge, generate a reply and enforce policy, then
// persist, escalate, send and schedule the follow-up.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/classifier"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/escalation"
	"github.com/edgard/inboxpilot/internal/goal"
	"github.com/edgard/inboxpilot/internal/intent"
	"github.com/edgard/inboxpilot/internal/knowledge"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/metrics"
	"github.com/edgard/inboxpilot/internal/notify"
	"github.com/edgard/inboxpilot/internal/policy"
	"github.com/edgard/inboxpilot/internal/reply"
)

// SkipHold is the skip reason of a cycle bypassed by a silent escalation hold.
const SkipHold = "escalation hold in force"

// Sender delivers assistant text to the customer over the channel.
type Sender interface {
	Send(ctx context.Context, conv *database.Conversation, text string) error
}

// Deps are the collaborators of the engine. Sender and Notifier are optional.
type Deps struct {
	Store    database.Store
	LLM      llm.Client
	Sender   Sender
	Notifier notify.Notifier
}

// Config tunes the decision cycle.
type Config struct {
	HistoryLimit        int
	CycleTimeout        time.Duration
	LLMTimeout          time.Duration
	KnowledgeTopK       int
	KnowledgeMaxTokens  int
	RepetitionThreshold float64
	RepetitionWords     int
	ReplyWindow         time.Duration
	LeadTime            time.Duration
}

// CycleInput is one unit of inbound work. CustomerMessageIDs lists messages
// already stored by the caller; when empty the cycle stores CustomerText
// itself.
type CycleInput struct {
	ConversationID     string
	WorkspaceID        string
	CustomerText       string
	Attachments        []domain.Attachment
	CustomerMessageIDs []int64
	Source             domain.AutomationSource
}

// CycleResult is the outcome of a decision cycle.
type CycleResult struct {
	Message           *database.Message // assistant message, nil when skipped
	Decision          domain.Decision
	Classification    classifier.Result
	Intent            domain.Intent
	GoalMatched       bool
	Goal              goal.State
	EscalationCreated bool
	Escalation        *database.Escalation
	Skipped           bool
	SkipReason        string
	Fallback          bool
}

// Engine is safe for concurrent use. Cycles of one conversation run one at a
// time; different conversations run in parallel.
type Engine struct {
	store      database.Store
	classifier *classifier.Classifier
	detector   *intent.Detector
	resolver   *knowledge.Resolver
	generator  *reply.Generator
	sender     Sender
	notifier   notify.Notifier
	cfg        Config
	locks      *keyedMutex
	now        func() time.Time
	log        *slog.Logger
}

func New(deps Deps, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	client := deps.LLM
	if client == nil {
		client = llm.Disabled{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.RepetitionThreshold <= 0 {
		cfg.RepetitionThreshold = policy.DefaultRepetitionThreshold
	}
	if cfg.RepetitionWords <= 0 {
		cfg.RepetitionWords = policy.DefaultRepetitionWords
	}
	if cfg.ReplyWindow <= 0 {
		cfg.ReplyWindow = 24 * time.Hour
	}
	if cfg.LeadTime < 0 || cfg.LeadTime >= cfg.ReplyWindow {
		cfg.LeadTime = 0
	}

	return &Engine{
		store:      deps.Store,
		classifier: classifier.New(client, deps.Store, log),
		detector:   intent.New(client, log),
		resolver:   knowledge.NewResolver(deps.Store, client, cfg.KnowledgeTopK, cfg.KnowledgeMaxTokens, log),
		generator:  reply.NewGenerator(client, cfg.LLMTimeout, log),
		sender:     deps.Sender,
		notifier:   notifier,
		cfg:        cfg,
		locks:      newKeyedMutex(),
		now:        time.Now,
		log:        log.With("component", "pipeline"),
	}
}

// SetClock replaces the time source used for holds and follow-up deadlines.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// RunDecisionCycle turns one inbound unit into a reply or an escalation.
// Collaborator failures are recovered inside; only persistence and
// configuration failures of the requested conversation are returned.
func (e *Engine) RunDecisionCycle(ctx context.Context, in CycleInput) (*CycleResult, error) {
	if in.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if in.Source == "" {
		in.Source = domain.SourceLive
	}
	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	start := time.Now()
	unlock, err := e.locks.Lock(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock conversation %s: %w", in.ConversationID, err)
	}
	defer unlock()

	res, err := e.run(ctx, in)
	metrics.RecordCycle(string(in.Source), outcome(res, err), time.Since(start).Seconds())
	if err != nil {
		e.log.ErrorContext(ctx, "Decision cycle failed", "conversation_id", in.ConversationID, "error", err)
		return nil, err
	}
	return res, nil
}

func outcome(res *CycleResult, err error) string {
	switch {
	case err != nil:
		return "failed"
	case res.Skipped:
		return "held"
	case res.Decision.ShouldEscalate:
		return "escalated"
	default:
		return "replied"
	}
}

func (e *Engine) run(ctx context.Context, in CycleInput) (*CycleResult, error) {
	conv, err := e.store.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", in.ConversationID, err)
	}
	if in.WorkspaceID != "" && in.WorkspaceID != conv.WorkspaceID {
		return nil, fmt.Errorf("conversation %s does not belong to workspace %s", conv.ID, in.WorkspaceID)
	}
	ws := conv.WorkspaceID
	log := e.log.With("conversation_id", conv.ID, "workspace_id", ws, "source", in.Source)

	settings, err := e.store.GetSettings(ctx, ws)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for %s: %w", ws, err)
	}

	text := strings.TrimSpace(in.CustomerText)
	ids := in.CustomerMessageIDs
	anchor := conv.LastCustomerMessageAt.Time
	if len(ids) == 0 {
		m := &database.Message{
			ConversationID: conv.ID,
			WorkspaceID:    ws,
			Role:           domain.RoleCustomer,
			Body:           text,
			Attachments:    database.Attachments(in.Attachments),
			CreatedAt:      e.now(),
		}
		if err := e.store.AppendMessage(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to store customer message: %w", err)
		}
		ids = []int64{m.ID}
		anchor = m.CreatedAt
	}

	now := e.now()
	hold := escalation.Evaluate(heldSince(conv), settings.HumanHoldMinutes, settings.HoldBehavior, now)
	if hold.Silent {
		log.InfoContext(ctx, "Skipping decision cycle under escalation hold", "until", hold.Until)
		return &CycleResult{Skipped: true, SkipReason: SkipHold}, nil
	}

	res := &CycleResult{}

	res.Classification, err = e.classify(ctx, text, ws, settings)
	if err != nil {
		return nil, err
	}
	if res.Classification.Fallback {
		metrics.Fallbacks.WithLabelValues("classify").Inc()
	}
	if err := e.store.AnnotateMessages(ctx, ids, database.MessageAnnotation{
		Language:    res.Classification.Language,
		Translation: res.Classification.Translation,
		CategoryID:  res.Classification.Category.ID,
	}); err != nil {
		return nil, fmt.Errorf("failed to annotate customer messages: %w", err)
	}

	gcfg := goal.Config{
		Primary:   settings.PrimaryGoal,
		Secondary: settings.SecondaryGoal,
		Goals:     domain.GoalConfigs(settings.Goals),
	}
	prevGoal, err := e.loadGoal(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	ictx, cancel := e.llmContext(ctx)
	res.Intent = e.detector.Detect(ictx, text, intent.Options{
		Model:           settings.ModelOverride,
		Temperature:     temperature(settings),
		ReasoningBudget: reasoningBudget(settings),
	})
	cancel()
	state, tr := goal.Apply(prevGoal, res.Intent, gcfg)
	res.GoalMatched = tr.Matched
	if tr.Abandoned != "" {
		log.DebugContext(ctx, "Discarding fields of abandoned goal",
			"goal", tr.Abandoned, "fields", keys(tr.Discarded), "new_goal", state.Goal)
	}

	category := res.Classification.Category
	kctx, err := e.resolver.Resolve(ctx, ws, &category, firstNonEmpty(res.Classification.Translation, text))
	if err != nil {
		return nil, err
	}

	history, err := e.history(ctx, conv.ID, ids)
	if err != nil {
		return nil, err
	}

	gen := e.generator.Generate(ctx, reply.Input{
		Settings:     settings,
		Category:     category,
		Language:     res.Classification.Language,
		Translation:  res.Classification.Translation,
		CustomerText: text,
		Attachments:  in.Attachments,
		History:      history,
		Goal: reply.GoalState{
			Primary:   settings.PrimaryGoal,
			Secondary: settings.SecondaryGoal,
			Detected:  res.Intent,
			Active:    activeGoal(state),
			Status:    string(state.Status),
			Collected: state.Collected,
			Missing:   goal.Missing(state, gcfg),
		},
		Knowledge: kctx,
		Source:    in.Source,
	}, reply.Options{
		Model:           settings.ModelOverride,
		Temperature:     temperature(settings),
		ReasoningBudget: reasoningBudget(settings),
	})
	res.Fallback = gen.Fallback
	if gen.Fallback {
		metrics.Fallbacks.WithLabelValues("reply").Inc()
	}

	res.Decision = policy.Enforce(gen.Decision, policy.Input{
		CategoryName:        category.Name,
		CategoryPolicy:      category.AIPolicy,
		EscalationNote:      category.EscalationNote,
		Mode:                settings.DecisionMode,
		AllowHashtags:       settings.AllowHashtags,
		AllowEmojis:         settings.AllowEmojis,
		MaxSentences:        settings.MaxReplySentences,
		PreviousAssistant:   lastAssistant(history),
		RepetitionThreshold: e.cfg.RepetitionThreshold,
		RepetitionWords:     e.cfg.RepetitionWords,
	})

	state = goal.Collect(state, res.Decision.CollectedFields, gcfg)
	res.Goal = state
	if state.Active() || prevGoal.Active() {
		if err := e.store.SaveGoalProgress(ctx, &database.GoalProgress{
			ConversationID: conv.ID,
			Goal:           state.Goal,
			Status:         string(state.Status),
			Collected:      database.FieldMap(state.Collected),
			Summary:        state.Summary,
			NextStep:       state.NextStep,
		}); err != nil {
			return nil, fmt.Errorf("failed to save goal progress: %w", err)
		}
	}

	msg := &database.Message{
		ConversationID:   conv.ID,
		WorkspaceID:      ws,
		Role:             domain.RoleAssistant,
		Body:             res.Decision.ReplyText,
		CategoryID:       category.ID,
		Tags:             database.StringList(res.Decision.Tags),
		Escalated:        res.Decision.ShouldEscalate,
		EscalationReason: res.Decision.EscalationReason,
		AutomationSource: in.Source,
		CreatedAt:        e.now(),
	}
	if err := e.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}
	res.Message = msg

	if res.Decision.ShouldEscalate && !hold.Held {
		esc, err := e.escalate(ctx, conv, category.Name, res.Decision.EscalationReason, text, now)
		if err != nil {
			return nil, err
		}
		res.Escalation = esc
		res.EscalationCreated = true
	}

	if in.Source == domain.SourceLive {
		if e.sender != nil {
			if err := e.sender.Send(ctx, conv, msg.Body); err != nil {
				log.ErrorContext(ctx, "Failed to send reply", "message_id", msg.ID, "error", err)
			}
		}
		if settings.FollowUpEnabled {
			e.scheduleFollowUp(ctx, conv, anchor, now)
		}
	}

	log.InfoContext(ctx, "Decision cycle completed",
		"category", category.Name,
		"intent", res.Intent,
		"escalate", res.Decision.ShouldEscalate,
		"fallback", res.Fallback,
		"goal", state.Goal,
		"goal_status", state.Status)
	return res, nil
}

// llmContext bounds a single collaborator call by the LLM timeout.
func (e *Engine) llmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.LLMTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.LLMTimeout)
}

func (e *Engine) classify(ctx context.Context, text, ws string, s *database.WorkspaceSettings) (classifier.Result, error) {
	if text != "" {
		cctx, cancel := e.llmContext(ctx)
		defer cancel()
		return e.classifier.Classify(cctx, text, ws, classifier.Options{
			Model:           s.ModelOverride,
			Temperature:     temperature(s),
			DefaultLanguage: s.DefaultLanguage,
		}), nil
	}
	// Media without a caption: nothing to classify.
	cats, err := e.store.EnsureCategories(ctx, ws)
	if err != nil {
		return classifier.Result{}, fmt.Errorf("failed to load categories for %s: %w", ws, err)
	}
	return classifier.Default(cats, s.DefaultLanguage), nil
}

func (e *Engine) loadGoal(ctx context.Context, conversationID string) (goal.State, error) {
	gp, err := e.store.GetGoalProgress(ctx, conversationID)
	if errors.Is(err, database.ErrNotFound) {
		return goal.State{}, nil
	}
	if err != nil {
		return goal.State{}, fmt.Errorf("failed to load goal progress: %w", err)
	}
	return goal.State{
		Goal:      gp.Goal,
		Status:    goal.Status(gp.Status),
		Collected: map[string]string(gp.Collected),
		Summary:   gp.Summary,
		NextStep:  gp.NextStep,
	}, nil
}

// history returns the recent messages before the current unit of work.
func (e *Engine) history(ctx context.Context, conversationID string, current []int64) ([]database.Message, error) {
	msgs, err := e.store.RecentMessages(ctx, conversationID, e.cfg.HistoryLimit+len(current))
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	skip := make(map[int64]bool, len(current))
	for _, id := range current {
		skip[id] = true
	}
	out := msgs[:0]
	for _, m := range msgs {
		if !skip[m.ID] {
			out = append(out, m)
		}
	}
	if len(out) > e.cfg.HistoryLimit {
		out = out[len(out)-e.cfg.HistoryLimit:]
	}
	return out, nil
}

func (e *Engine) escalate(ctx context.Context, conv *database.Conversation, topic, reason, text string, now time.Time) (*database.Escalation, error) {
	esc := &database.Escalation{
		ConversationID: conv.ID,
		WorkspaceID:    conv.WorkspaceID,
		Topic:          topic,
		Reason:         reason,
		CreatedAt:      now,
	}
	if err := e.store.CreateEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to create escalation: %w", err)
	}
	if err := e.store.SetConversationHold(ctx, conv.ID, &now); err != nil {
		return nil, fmt.Errorf("failed to set escalation hold: %w", err)
	}
	metrics.Escalations.WithLabelValues(conv.WorkspaceID).Inc()

	if err := e.notifier.Notify(ctx, notify.Alert{
		EscalationID:   esc.ID,
		ConversationID: conv.ID,
		WorkspaceID:    conv.WorkspaceID,
		Topic:          topic,
		Reason:         reason,
		CustomerText:   text,
		CreatedAt:      now,
	}); err != nil {
		e.log.WarnContext(ctx, "Failed to publish escalation alert", "conversation_id", conv.ID, "error", err)
	}
	e.log.InfoContext(ctx, "Conversation escalated", "conversation_id", conv.ID, "topic", topic, "reason", reason)
	return esc, nil
}

// scheduleFollowUp books the nudge LeadTime before the reply window closes.
// Failures are logged: the reply already went out.
func (e *Engine) scheduleFollowUp(ctx context.Context, conv *database.Conversation, anchor, now time.Time) {
	if anchor.IsZero() {
		anchor = now
	}
	deadline := anchor.Add(e.cfg.ReplyWindow)
	if !deadline.After(now) {
		return
	}
	f := &database.FollowUp{
		ConversationID: conv.ID,
		WorkspaceID:    conv.WorkspaceID,
		AnchorAt:       anchor,
		DueAt:          deadline.Add(-e.cfg.LeadTime),
		DeadlineAt:     deadline,
	}
	if err := e.store.ScheduleFollowUp(ctx, f); err != nil {
		e.log.ErrorContext(ctx, "Failed to schedule follow-up", "conversation_id", conv.ID, "error", err)
		return
	}
	e.log.DebugContext(ctx, "Follow-up scheduled", "conversation_id", conv.ID, "due_at", f.DueAt)
}

// LockConversation takes the lock decision cycles hold for conversationID.
// Other writers of a conversation use it to stay ordered with the cycles.
func (e *Engine) LockConversation(ctx context.Context, conversationID string) (func(), error) {
	return e.locks.Lock(ctx, conversationID)
}

// FlushBuffered is the buffer.FlushFunc of live traffic: one cycle for the
// whole burst, annotating the already stored messages.
func (e *Engine) FlushBuffered(ctx context.Context, entry buffer.Entry) error {
	_, err := e.RunDecisionCycle(ctx, CycleInput{
		ConversationID:     entry.ConversationID,
		WorkspaceID:        entry.WorkspaceID,
		CustomerText:       entry.Text(),
		Attachments:        entry.Attachments(),
		CustomerMessageIDs: entry.MessageIDs(),
		Source:             domain.SourceLive,
	})
	return err
}

// ResolveEscalation clears the human hold of a conversation and returns the
// number of escalations resolved.
func (e *Engine) ResolveEscalation(ctx context.Context, conversationID string) (int, error) {
	unlock, err := e.locks.Lock(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to lock conversation %s: %w", conversationID, err)
	}
	defer unlock()

	n, err := e.store.ResolveEscalations(ctx, conversationID, e.now())
	if err != nil {
		return 0, fmt.Errorf("failed to resolve escalations for %s: %w", conversationID, err)
	}
	e.log.InfoContext(ctx, "Escalation resolved", "conversation_id", conversationID, "resolved", n)
	return n, nil
}

func heldSince(c *database.Conversation) *time.Time {
	if !c.EscalatedAt.Valid {
		return nil
	}
	t := c.EscalatedAt.Time
	return &t
}

func lastAssistant(history []database.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleAssistant {
			return history[i].Body
		}
	}
	return ""
}

func activeGoal(s goal.State) domain.Intent {
	if s.Active() {
		return s.Goal
	}
	return domain.IntentNone
}

func temperature(s *database.WorkspaceSettings) *float32 {
	return nullFloat32(s.Temperature)
}

func nullFloat32(v sql.NullFloat64) *float32 {
	if !v.Valid {
		return nil
	}
	f := float32(v.Float64)
	return &f
}

func reasoningBudget(s *database.WorkspaceSettings) *int32 {
	if !s.ReasoningBudget.Valid {
		return nil
	}
	b := int32(s.ReasoningBudget.Int64)
	return &b
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
