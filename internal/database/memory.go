package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/inboxpilot/internal/domain"
)

// MemoryStore is an in-process Store. It backs sandbox runs and tests; nothing
// it holds outlives the process.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	conversations map[string]Conversation
	messages      []Message
	nextMessageID int64
	categories    map[string]MessageCategory // by id
	catKnowledge  map[string]CategoryKnowledge
	entries       []KnowledgeEntry
	settings      map[string]WorkspaceSettings
	escalations   []Escalation
	goals         map[string]GoalProgress
	followUps     map[string]FollowUp
	reports       map[string]DailyReport
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		conversations: make(map[string]Conversation),
		categories:    make(map[string]MessageCategory),
		catKnowledge:  make(map[string]CategoryKnowledge),
		settings:      make(map[string]WorkspaceSettings),
		goals:         make(map[string]GoalProgress),
		followUps:     make(map[string]FollowUp),
		reports:       make(map[string]DailyReport),
	}
}

// SetClock replaces the time source used for generated timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func knowledgeKey(workspaceID, categoryID string) string { return workspaceID + "/" + categoryID }

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) GetOrCreateConversation(ctx context.Context, workspaceID, platform, participantID, participantName string) (*Conversation, error) {
	if workspaceID == "" || platform == "" || participantID == "" {
		return nil, fmt.Errorf("workspace, platform and participant are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.WorkspaceID == workspaceID && c.Platform == platform && c.ParticipantID == participantID {
			return &c, nil
		}
	}
	now := m.now().UTC()
	c := Conversation{
		ID:              uuid.NewString(),
		WorkspaceID:     workspaceID,
		ParticipantID:   participantID,
		ParticipantName: participantName,
		Platform:        platform,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.conversations[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// PutConversation stores c as is. Sandbox runs use it for their ephemeral
// conversation stub.
func (m *MemoryStore) PutConversation(c Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
}

func (m *MemoryStore) SetConversationHold(ctx context.Context, conversationID string, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.EscalatedAt.Valid = at != nil
	if at != nil {
		c.EscalatedAt.Time = at.UTC()
	}
	c.UpdatedAt = m.now().UTC()
	m.conversations[conversationID] = c
	return nil
}

func (m *MemoryStore) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for id := range m.settings {
		seen[id] = true
	}
	for _, c := range m.conversations {
		seen[c.WorkspaceID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if msg.ConversationID == "" || msg.WorkspaceID == "" {
		return fmt.Errorf("message must reference a conversation and workspace")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("failed to save message for conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	m.nextMessageID++
	msg.ID = m.nextMessageID

	stored := *msg
	stored.Attachments = append(Attachments(nil), msg.Attachments...)
	stored.Tags = append(StringList(nil), msg.Tags...)
	for i := range stored.Attachments {
		stored.Attachments[i].Data = nil
	}
	m.messages = append(m.messages, stored)

	c.LastMessageAt.Time, c.LastMessageAt.Valid = msg.CreatedAt, true
	if msg.Role == domain.RoleCustomer {
		c.LastCustomerMessageAt.Time, c.LastCustomerMessageAt.Valid = msg.CreatedAt, true
	}
	c.UpdatedAt = msg.CreatedAt
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) AnnotateMessages(ctx context.Context, ids []int64, a MessageAnnotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	updated := 0
	for i := range m.messages {
		msg := &m.messages[i]
		if !want[msg.ID] || msg.Role != domain.RoleCustomer {
			continue
		}
		msg.Language = a.Language
		msg.Translation = a.Translation
		msg.CategoryID = a.CategoryID
		updated++
	}
	if cat, ok := m.categories[a.CategoryID]; ok && updated > 0 {
		cat.MessageCount += updated
		cat.UpdatedAt = m.now().UTC()
		m.categories[a.CategoryID] = cat
	}
	return nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	} else if limit > 100 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].ConversationID == conversationID {
			out = append(out, m.messages[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Messages returns every message of the conversation in order.
func (m *MemoryStore) Messages(conversationID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MemoryStore) listCategories(workspaceID string) []MessageCategory {
	var cats []MessageCategory
	for _, c := range m.categories {
		if c.WorkspaceID == workspaceID {
			cats = append(cats, c)
		}
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].IsSystem != cats[j].IsSystem {
			return cats[i].IsSystem
		}
		return cats[i].Name < cats[j].Name
	})
	return cats
}

func (m *MemoryStore) EnsureCategories(ctx context.Context, workspaceID string) ([]MessageCategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cats := m.listCategories(workspaceID); len(cats) > 0 {
		return cats, nil
	}
	now := m.now().UTC()
	for _, c := range SystemCategories(workspaceID) {
		c.ID = uuid.NewString()
		c.CreatedAt, c.UpdatedAt = now, now
		m.categories[c.ID] = c
	}
	return m.listCategories(workspaceID), nil
}

func (m *MemoryStore) UpsertCategory(ctx context.Context, c *MessageCategory) error {
	if c == nil || c.WorkspaceID == "" || c.Name == "" {
		return fmt.Errorf("category needs a workspace and a name")
	}
	if !c.AIPolicy.Valid() {
		c.AIPolicy = domain.PolicyFullAuto
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for id, existing := range m.categories {
		if existing.WorkspaceID == c.WorkspaceID && existing.Name == c.Name {
			existing.Description = c.Description
			existing.AIPolicy = c.AIPolicy
			existing.EscalationNote = c.EscalationNote
			existing.Examples = append(StringList(nil), c.Examples...)
			existing.UpdatedAt = now
			m.categories[id] = existing
			c.ID = id
			return nil
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.categories[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCategoryKnowledge(ctx context.Context, workspaceID, categoryID string) (*CategoryKnowledge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.catKnowledge[knowledgeKey(workspaceID, categoryID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &k, nil
}

func (m *MemoryStore) UpsertCategoryKnowledge(ctx context.Context, k *CategoryKnowledge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k.UpdatedAt = m.now().UTC()
	m.catKnowledge[knowledgeKey(k.WorkspaceID, k.CategoryID)] = *k
	return nil
}

func (m *MemoryStore) ListKnowledgeEntries(ctx context.Context, workspaceID string) ([]KnowledgeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []KnowledgeEntry
	for _, e := range m.entries {
		if e.WorkspaceID == workspaceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) AddKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MemoryStore) GetSettings(ctx context.Context, workspaceID string) (*WorkspaceSettings, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[workspaceID]
	if !ok {
		s = *DefaultSettings(workspaceID, m.now().UTC())
		m.settings[workspaceID] = s
	}
	s.Goals = cloneGoals(s.Goals)
	return &s, nil
}

func (m *MemoryStore) SaveSettings(ctx context.Context, s *WorkspaceSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	stored := *s
	stored.Goals = cloneGoals(s.Goals)
	m.settings[s.WorkspaceID] = stored
	return nil
}

func cloneGoals(g GoalConfigs) GoalConfigs {
	if g == nil {
		return nil
	}
	out := make(GoalConfigs, len(g))
	for k, v := range g {
		out[k] = domain.GoalConfig{Fields: append([]domain.GoalField(nil), v.Fields...)}
	}
	return out
}

func (m *MemoryStore) CreateEscalation(ctx context.Context, e *Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now().UTC()
	}
	m.escalations = append(m.escalations, *e)
	return nil
}

// Escalations returns the escalations recorded for a conversation.
func (m *MemoryStore) Escalations(conversationID string) []Escalation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Escalation
	for _, e := range m.escalations {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryStore) ResolveEscalations(ctx context.Context, conversationID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	c.EscalatedAt.Valid = false
	c.EscalatedAt.Time = time.Time{}
	c.UpdatedAt = at.UTC()
	m.conversations[conversationID] = c

	resolved := 0
	for i := range m.escalations {
		e := &m.escalations[i]
		if e.ConversationID == conversationID && !e.ResolvedAt.Valid {
			e.ResolvedAt.Time, e.ResolvedAt.Valid = at.UTC(), true
			resolved++
		}
	}
	return resolved, nil
}

func (m *MemoryStore) GetGoalProgress(ctx context.Context, conversationID string) (*GoalProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	g.Collected = g.Collected.Clone()
	return &g, nil
}

func (m *MemoryStore) SaveGoalProgress(ctx context.Context, g *GoalProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.UpdatedAt = m.now().UTC()
	stored := *g
	stored.Collected = g.Collected.Clone()
	m.goals[g.ConversationID] = stored
	return nil
}

func (m *MemoryStore) ScheduleFollowUp(ctx context.Context, f *FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for id, existing := range m.followUps {
		if existing.ConversationID == f.ConversationID && existing.Status == FollowUpPending {
			existing.Status = FollowUpCancelled
			existing.UpdatedAt = now
			m.followUps[id] = existing
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Status = FollowUpPending
	f.CreatedAt, f.UpdatedAt = now, now
	m.followUps[f.ID] = *f
	return nil
}

func (m *MemoryStore) DueFollowUps(ctx context.Context, now time.Time, limit int) ([]FollowUp, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []FollowUp
	for _, f := range m.followUps {
		if f.Status == FollowUpPending && !f.DueAt.After(now) {
			due = append(due, f)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// FollowUp returns a follow-up by id.
func (m *MemoryStore) FollowUp(id string) (FollowUp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followUps[id]
	return f, ok
}

// FollowUpsFor returns every follow-up of a conversation, oldest first.
func (m *MemoryStore) FollowUpsFor(conversationID string) []FollowUp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FollowUp
	for _, f := range m.followUps {
		if f.ConversationID == conversationID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) ClaimFollowUp(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followUps[id]
	if !ok || f.Status != FollowUpPending {
		return false, nil
	}
	f.Status = FollowUpProcessing
	f.Attempts++
	f.UpdatedAt = now.UTC()
	m.followUps[id] = f
	return true, nil
}

func (m *MemoryStore) FinishFollowUp(ctx context.Context, id string, status FollowUpStatus, lastErr string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.followUps[id]
	if !ok || f.Status != FollowUpProcessing {
		return ErrNotFound
	}
	f.Status = status
	f.LastError = lastErr
	if status == FollowUpSent {
		f.SentAt.Time, f.SentAt.Valid = now.UTC(), true
	}
	f.UpdatedAt = now.UTC()
	m.followUps[id] = f
	return nil
}

func (m *MemoryStore) RunMaintenance(ctx context.Context, staleBefore, pruneBefore time.Time) (MaintenanceResult, error) {
	var res MaintenanceResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for id, f := range m.followUps {
		switch {
		case f.Status == FollowUpProcessing && f.UpdatedAt.Before(staleBefore):
			f.Status = FollowUpFailed
			f.LastError = AbandonedFollowUp
			f.UpdatedAt = now
			m.followUps[id] = f
			res.StaleFollowUps++
		case f.Status != FollowUpPending && f.Status != FollowUpProcessing && f.UpdatedAt.Before(pruneBefore):
			delete(m.followUps, id)
			res.PrunedFollowUps++
		}
	}
	return res, nil
}

func (m *MemoryStore) ComputeDailyReport(ctx context.Context, workspaceID string, dayStart time.Time) (*DailyReport, error) {
	from := dayStart.UTC()
	to := from.Add(24 * time.Hour)
	in := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }

	m.mu.Lock()
	defer m.mu.Unlock()
	r := &DailyReport{WorkspaceID: workspaceID, Day: from.Format(time.DateOnly), Categories: CountMap{}}
	for _, msg := range m.messages {
		if msg.WorkspaceID != workspaceID || !in(msg.CreatedAt) {
			continue
		}
		switch msg.Role {
		case domain.RoleCustomer:
			r.Inbound++
			if cat, ok := m.categories[msg.CategoryID]; ok {
				r.Categories[cat.Name]++
			}
		case domain.RoleAssistant:
			r.Replies++
		}
	}
	for _, e := range m.escalations {
		if e.WorkspaceID == workspaceID && in(e.CreatedAt) {
			r.Escalations++
		}
	}
	for _, f := range m.followUps {
		if f.WorkspaceID == workspaceID && f.Status == FollowUpSent && f.SentAt.Valid && in(f.SentAt.Time) {
			r.FollowUpsSent++
		}
	}
	return r, nil
}

func (m *MemoryStore) SaveDailyReport(ctx context.Context, r *DailyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.UpdatedAt = m.now().UTC()
	m.reports[r.WorkspaceID+"/"+r.Day] = *r
	return nil
}

func (m *MemoryStore) GetDailyReport(ctx context.Context, workspaceID, day string) (*DailyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[workspaceID+"/"+day]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}
