package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/inboxpilot/internal/buffer"
	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/goal"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/llm/llmtest"
	"github.com/edgard/inboxpilot/internal/notify"
	"github.com/edgard/inboxpilot/internal/policy"
	"github.com/edgard/inboxpilot/internal/text"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const workspace = "acme"

var epoch = time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, _ *database.Conversation, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return s.err
}

func (s *recordingSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type fixture struct {
	store    *database.MemoryStore
	llm      *llmtest.Client
	sender   *recordingSender
	notifier *recordingNotifier
	engine   *Engine
	conv     *database.Conversation
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    database.NewMemoryStore(),
		llm:      llmtest.New(),
		sender:   &recordingSender{},
		notifier: &recordingNotifier{},
		now:      epoch,
	}
	f.store.SetClock(f.clock)
	f.engine = New(Deps{Store: f.store, LLM: f.llm, Sender: f.sender, Notifier: f.notifier}, Config{
		HistoryLimit: 10,
		LLMTimeout:   time.Second,
		ReplyWindow:  24 * time.Hour,
		LeadTime:     2 * time.Hour,
	}, nil)
	f.engine.SetClock(f.clock)

	conv, err := f.store.GetOrCreateConversation(context.Background(), workspace, "telegram", "42", "Ana")
	require.NoError(t, err)
	f.conv = conv
	f.llm.Respond(llm.OpIntent, map[string]string{"intent": "none"})
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) classifyAs(category string) {
	f.llm.Respond(llm.OpClassify, map[string]any{
		"detectedLanguage": "en",
		"categoryName":     category,
		"translatedText":   "",
		"confidence":       0.9,
	})
}

func (f *fixture) replyWith(text string, escalate bool, tags ...string) {
	f.llm.Respond(llm.OpReply, map[string]any{
		"replyText":        text,
		"shouldEscalate":   escalate,
		"escalationReason": "",
		"tags":             tags,
	})
}

func (f *fixture) settings(t *testing.T, mutate func(s *database.WorkspaceSettings)) {
	t.Helper()
	ctx := context.Background()
	s, err := f.store.GetSettings(ctx, workspace)
	require.NoError(t, err)
	mutate(s)
	require.NoError(t, f.store.SaveSettings(ctx, s))
}

func (f *fixture) run(t *testing.T, msg string) *CycleResult {
	t.Helper()
	res, err := f.engine.RunDecisionCycle(context.Background(), CycleInput{
		ConversationID: f.conv.ID,
		WorkspaceID:    workspace,
		CustomerText:   msg,
		Source:         domain.SourceLive,
	})
	require.NoError(t, err)
	return res
}

func assistantMessages(store *database.MemoryStore, convID string) []database.Message {
	var out []database.Message
	for _, m := range store.Messages(convID) {
		if m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestPricingQuestionAnsweredWithinLimits(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("Pricing")
	f.replyWith("It starts at $20. Delivery is free on weekdays. Want me to reserve one? Anything else I can do?", false, "price")

	res := f.run(t, "How much is it?")

	assert.False(t, res.Decision.ShouldEscalate)
	assert.False(t, res.EscalationCreated)
	assert.LessOrEqual(t, len(text.Sentences(res.Decision.ReplyText)), 3)
	assert.Contains(t, res.Decision.Tags, "pricing")
	assert.Equal(t, "Pricing", res.Classification.CategoryName)

	msgs := f.store.Messages(f.conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleCustomer, msgs[0].Role)
	assert.Equal(t, res.Classification.Category.ID, msgs[0].CategoryID, "customer message is annotated")
	assert.Equal(t, domain.SourceLive, msgs[1].AutomationSource)
	assert.Equal(t, []string{res.Decision.ReplyText}, f.sender.Sent())
}

func TestEscalatePolicyForcesHumanAck(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("Complaint")
	f.replyWith("I'm so sorry about this.", false)

	res := f.run(t, "This is unacceptable, worst service ever")

	assert.True(t, res.Decision.ShouldEscalate)
	assert.True(t, policy.MentionsHuman(res.Decision.ReplyText), res.Decision.ReplyText)
	assert.Contains(t, res.Decision.Tags, policy.EscalationTag)
	require.True(t, res.EscalationCreated)
	assert.Equal(t, "Complaint", res.Escalation.Topic)
	assert.NotEmpty(t, res.Escalation.Reason)

	conv, err := f.store.GetConversation(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.True(t, conv.EscalatedAt.Valid, "hold is set")
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, workspace, f.notifier.alerts[0].WorkspaceID)
	assert.Len(t, f.sender.Sent(), 1, "the acknowledgment is still sent")
}

func TestReplyFailureFallsBackToEscalation(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("General")
	f.llm.Fail(llm.OpReply, errors.New("provider unavailable"))

	res := f.run(t, "Hello, can you help me with something?")

	assert.True(t, res.Fallback)
	assert.Equal(t, "Thanks for reaching out! A teammate will follow up shortly.", res.Decision.ReplyText)
	assert.True(t, res.Decision.ShouldEscalate)
	assert.True(t, res.EscalationCreated)
}

func TestReplyTimeoutFallsBackToEscalation(t *testing.T) {
	f := newFixture(t)
	cfg := f.engine.cfg
	cfg.LLMTimeout = 20 * time.Millisecond
	f.engine = New(Deps{Store: f.store, LLM: f.llm, Sender: f.sender}, cfg, nil)
	f.engine.SetClock(f.clock)
	f.classifyAs("General")
	f.llm.On(llm.OpReply, func(llm.Request) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return `{"replyText":"late","shouldEscalate":false,"escalationReason":"","tags":[]}`, nil
	})

	res := f.run(t, "Are you open on Sunday?")
	assert.Equal(t, domain.FallbackReply, res.Decision.ReplyText)
	assert.True(t, res.Decision.ShouldEscalate)
}

func TestBurstProducesSingleCycle(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("Orders")
	f.replyWith("Great, two pizzas it is. What address should we deliver to?", false)
	ctx := context.Background()

	var clockMu sync.Mutex
	bufNow := epoch
	buf := buffer.New(buffer.Config{Debounce: 5 * time.Second, MaxWait: 30 * time.Second, Concurrency: 4},
		f.engine.FlushBuffered, nil)
	buf.SetClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return bufNow
	})
	advance := func(d time.Duration) {
		clockMu.Lock()
		bufNow = bufNow.Add(d)
		clockMu.Unlock()
	}

	for _, body := range []string{"I want to order", "2 pizzas please"} {
		m := &database.Message{ConversationID: f.conv.ID, WorkspaceID: workspace, Role: domain.RoleCustomer, Body: body}
		require.NoError(t, f.store.AppendMessage(ctx, m))
		buf.Add(f.conv.ID, workspace, buffer.Item{MessageID: m.ID, Text: body})
		advance(2 * time.Second)
	}

	assert.Equal(t, buffer.Stats{}, buf.ProcessDue(ctx))
	advance(5 * time.Second)
	assert.Equal(t, buffer.Stats{Flushed: 1}, buf.ProcessDue(ctx))

	require.Len(t, f.llm.Calls(llm.OpReply), 1)
	assert.Len(t, assistantMessages(f.store, f.conv.ID), 1)
	assert.Len(t, f.store.Messages(f.conv.ID), 3)

	cls := f.llm.Calls(llm.OpClassify)
	require.Len(t, cls, 1)
	assert.Equal(t, "I want to order\n2 pizzas please", cls[0].Messages[0].Parts[0].Text)
}

func TestSilentHoldSkipsCycle(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("Complaint")
	f.replyWith("Sorry.", false)
	f.run(t, "I'm going to leave a review")

	f.now = f.now.Add(10 * time.Minute)
	res := f.run(t, "Hello??")
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipHold, res.SkipReason)
	assert.Nil(t, res.Message)
	assert.Len(t, assistantMessages(f.store, f.conv.ID), 1)
	assert.Len(t, f.llm.Calls(llm.OpReply), 1)

	f.now = f.now.Add(time.Hour)
	f.classifyAs("General")
	f.replyWith("Hi again! How can I help?", false)
	res = f.run(t, "Anyone there?")
	assert.False(t, res.Skipped, "hold expired")
}

func TestAllowedHoldRepliesWithoutNewEscalation(t *testing.T) {
	f := newFixture(t)
	f.settings(t, func(s *database.WorkspaceSettings) { s.HoldBehavior = domain.HoldAIAllowed })
	f.classifyAs("Refund")
	f.replyWith("Let me check that.", false)
	first := f.run(t, "I want my money back")
	require.True(t, first.EscalationCreated)

	f.now = f.now.Add(5 * time.Minute)
	second := f.run(t, "Any news on my refund?")
	assert.False(t, second.Skipped)
	assert.True(t, second.Decision.ShouldEscalate)
	assert.False(t, second.EscalationCreated, "one escalation per hold")
	assert.Len(t, f.store.Escalations(f.conv.ID), 1)
}

func TestResolveEscalationClearsHold(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("Complaint")
	f.replyWith("Sorry.", false)
	f.run(t, "This is unacceptable")

	n, err := f.engine.ResolveEscalation(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.classifyAs("General")
	f.replyWith("Happy to help!", false)
	res := f.run(t, "Thanks")
	assert.False(t, res.Skipped)

	_, err = f.engine.ResolveEscalation(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestGoalCollectedAcrossCycles(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("General")
	f.llm.Respond(llm.OpIntent, map[string]string{"intent": "capture_lead"})
	f.llm.Respond(llm.OpReply, map[string]any{
		"replyText":        "Thanks Ana! What's the best number to reach you?",
		"shouldEscalate":   false,
		"escalationReason": "",
		"tags":             []string{"lead"},
		"collectedFields":  []map[string]string{{"key": "name", "value": "Ana"}},
	})

	res := f.run(t, "Hi, I'm Ana and I'd like someone to contact me")
	assert.True(t, res.GoalMatched)
	assert.Equal(t, domain.IntentCaptureLead, res.Goal.Goal)
	assert.Equal(t, goal.StatusCollecting, res.Goal.Status)

	f.llm.Respond(llm.OpIntent, map[string]string{"intent": "none"})
	f.llm.Respond(llm.OpReply, map[string]any{
		"replyText":        "Perfect, someone from our team will call you soon.",
		"shouldEscalate":   false,
		"escalationReason": "",
		"tags":             []string{},
		"collectedFields":  []map[string]string{{"key": "phone", "value": "555 0101"}},
	})
	res = f.run(t, "555 0101")
	assert.Equal(t, goal.StatusCompleted, res.Goal.Status)

	gp, err := f.store.GetGoalProgress(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", gp.Status)
	assert.Equal(t, "555 0101", gp.Collected["phone"])

	req := f.llm.Calls(llm.OpReply)[1]
	assert.Contains(t, req.Messages[len(req.Messages)-1].Parts[0].Text, "555 0101")
}

func TestFollowUpScheduledFromLastCustomerMessage(t *testing.T) {
	f := newFixture(t)
	f.settings(t, func(s *database.WorkspaceSettings) { s.FollowUpEnabled = true })
	f.classifyAs("General")
	f.replyWith("Hi! How can we help?", false)

	f.run(t, "hello")

	fus := f.store.FollowUpsFor(f.conv.ID)
	require.Len(t, fus, 1)
	assert.Equal(t, database.FollowUpPending, fus[0].Status)
	assert.Equal(t, epoch, fus[0].AnchorAt)
	assert.Equal(t, epoch.Add(24*time.Hour), fus[0].DeadlineAt)
	assert.Equal(t, epoch.Add(22*time.Hour), fus[0].DueAt)

	f.now = f.now.Add(time.Hour)
	f.run(t, "are you there?")
	fus = f.store.FollowUpsFor(f.conv.ID)
	pending := 0
	for _, fu := range fus {
		if fu.Status == database.FollowUpPending {
			pending++
			assert.Equal(t, epoch.Add(time.Hour), fu.AnchorAt)
		}
	}
	assert.Equal(t, 1, pending, "a new cycle replaces the pending follow-up")
}

func TestSandboxSourceNeverSends(t *testing.T) {
	f := newFixture(t)
	f.settings(t, func(s *database.WorkspaceSettings) { s.FollowUpEnabled = true })
	f.classifyAs("General")
	f.replyWith("Hello!", false)

	res, err := f.engine.RunDecisionCycle(context.Background(), CycleInput{
		ConversationID: f.conv.ID,
		CustomerText:   "hi",
		Source:         domain.SourceSandbox,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SourceSandbox, res.Message.AutomationSource)
	assert.Empty(t, f.sender.Sent())
	assert.Empty(t, f.store.FollowUpsFor(f.conv.ID))
}

func TestSendFailureIsNotPropagated(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("channel down")
	f.classifyAs("General")
	f.replyWith("Hello!", false)

	res := f.run(t, "hi")
	assert.NotNil(t, res.Message)
}

func TestPersistenceErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RunDecisionCycle(context.Background(), CycleInput{ConversationID: "unknown", CustomerText: "hi"})
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.engine.RunDecisionCycle(context.Background(), CycleInput{
		ConversationID: f.conv.ID, WorkspaceID: "other", CustomerText: "hi",
	})
	assert.Error(t, err)
}

func TestAntiRepetitionAgainstPreviousReply(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("General")
	f.replyWith("Thanks for your message, we are happy to help you today. What do you need?", false)
	f.run(t, "hi")

	f.replyWith("Thanks for your message, we are happy to help you with that. Our shop opens at nine.", false)
	res := f.run(t, "when do you open?")
	assert.Equal(t, "Our shop opens at nine.", res.Decision.ReplyText)
}

func TestConversationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("General")

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	f.llm.On(llm.OpReply, func(llm.Request) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return `{"replyText":"ok","shouldEscalate":false,"escalationReason":"","tags":[]}`, nil
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RunDecisionCycle(context.Background(), CycleInput{
				ConversationID: f.conv.ID, CustomerText: "hello", Source: domain.SourceSandbox,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
	assert.Zero(t, f.engine.locks.size())
}

func TestNullSettingsHelpers(t *testing.T) {
	t.Parallel()
	s := &database.WorkspaceSettings{}
	assert.Nil(t, temperature(s))
	assert.Nil(t, reasoningBudget(s))

	s.Temperature = sql.NullFloat64{Float64: 0.25, Valid: true}
	s.ReasoningBudget = sql.NullInt64{Int64: 512, Valid: true}
	require.NotNil(t, temperature(s))
	assert.InDelta(t, 0.25, *temperature(s), 1e-6)
	assert.Equal(t, int32(512), *reasoningBudget(s))
}

func TestLockConversationOrdersCycles(t *testing.T) {
	f := newFixture(t)
	f.classifyAs("General")
	f.replyWith("Happy to help!", false)

	unlock, err := f.engine.LockConversation(context.Background(), f.conv.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunDecisionCycle(context.Background(), CycleInput{
			ConversationID: f.conv.ID,
			WorkspaceID:    workspace,
			CustomerText:   "hello",
			Source:         domain.SourceLive,
		})
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("cycle ran while the conversation was locked")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, assistantMessages(f.store, f.conv.ID))

	unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not run after unlock")
	}
	assert.Len(t, assistantMessages(f.store, f.conv.ID), 1)
}
