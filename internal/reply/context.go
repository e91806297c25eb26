// Package reply generates the assistant's structured decision for a
// customer message.
package reply

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/knowledge"
)

// GoalState is the goal tracker view the generator reads. It never decides
// transitions.
type GoalState struct {
	Primary   domain.Intent
	Secondary domain.Intent
	Detected  domain.Intent
	Active    domain.Intent
	Status    string
	Collected map[string]string
	Missing   []domain.GoalField
}

// Input is everything the decision depends on.
type Input struct {
	Settings     *database.WorkspaceSettings
	Category     database.MessageCategory
	Language     string // detected language of the latest message
	Translation  string
	CustomerText string // empty selects the last customer message in History
	Attachments  []domain.Attachment
	History      []database.Message // chronological
	Goal         GoalState
	Knowledge    knowledge.Context
	Source       domain.AutomationSource
}

// Turn is one line of conversation history.
type Turn struct {
	Role domain.Role
	Text string
}

// Media is an attachment a vision-capable model can look at.
type Media struct {
	Type     domain.AttachmentType
	URL      string
	MIMEType string
	Data     []byte
}

// Context is the typed prompt payload. Each field is produced by one pure
// section function; Request formats it.
type Context struct {
	ReplyLanguage  string
	Rules          []string
	BusinessPolicy string
	CategoryPolicy string
	Knowledge      string
	Goal           string
	History        []Turn
	Latest         string
	Media          []Media
	Sandbox        bool
}

// BuildContext assembles the Context for in.
func BuildContext(in Input) Context {
	s := in.Settings
	if s == nil {
		s = database.DefaultSettings("", time.Time{})
	}
	lang := replyLanguage(s, in.Language)
	latest := latestText(in)
	return Context{
		ReplyLanguage:  lang,
		Rules:          rulesSection(s, lang),
		BusinessPolicy: businessSection(s),
		CategoryPolicy: categorySection(in.Category, lang),
		Knowledge:      knowledgeSection(in.Knowledge),
		Goal:           goalSection(in.Goal),
		History:        historySection(in.History),
		Latest:         latestSection(latest, in.Translation, in.Attachments),
		Media:          mediaSection(in.Attachments),
		Sandbox:        in.Source == domain.SourceSandbox,
	}
}

func replyLanguage(s *database.WorkspaceSettings, detected string) string {
	switch {
	case s.ReplyLanguage != "":
		return s.ReplyLanguage
	case detected != "":
		return detected
	case s.DefaultLanguage != "":
		return s.DefaultLanguage
	}
	return "en"
}

func latestText(in Input) string {
	if t := strings.TrimSpace(in.CustomerText); t != "" {
		return t
	}
	for i := len(in.History) - 1; i >= 0; i-- {
		if in.History[i].Role == domain.RoleCustomer {
			return strings.TrimSpace(in.History[i].Body)
		}
	}
	return ""
}

func rulesSection(s *database.WorkspaceSettings, lang string) []string {
	maxSentences := max(s.MaxReplySentences, 1)
	rules := []string{
		"Never commit to a price, discount or special deal unless the business policy or knowledge states it explicitly.",
		fmt.Sprintf("Reply in 1 to %d short sentences.", maxSentences),
		"Do not ask for information the customer already gave and do not repeat a question you already asked.",
	}
	if s.AllowHashtags {
		rules = append(rules, "Hashtags are allowed but use them sparingly.")
	} else {
		rules = append(rules, "Do not use hashtags.")
	}
	if s.AllowEmojis {
		rules = append(rules, "You may use at most one emoji.")
	} else {
		rules = append(rules, "Do not use emojis.")
	}
	rules = append(rules,
		"Set shouldEscalate to true when the category policy requires it or the situation is high-risk: anger, threats, legal or safety issues, refunds, or questions the knowledge cannot answer.",
		"When you escalate, tell the customer that a teammate will follow up and give a short escalationReason.",
		"Report any goal details the customer provided in this message in collectedFields.",
		fmt.Sprintf("Always answer in the language with code %q.", lang),
	)
	if g := strings.TrimSpace(s.EscalationGuidelines); g != "" {
		rules = append(rules, "Escalation guidelines: "+g)
	}
	if len(s.EscalationExamples) > 0 {
		rules = append(rules, "Examples that must be escalated: "+strings.Join(s.EscalationExamples, "; "))
	}
	return rules
}

func businessSection(s *database.WorkspaceSettings) string {
	return strings.TrimSpace(s.BusinessPolicy)
}

var policyText = map[domain.CategoryPolicy]string{
	domain.PolicyFullAuto:   "You may answer this category on your own.",
	domain.PolicyAssistOnly: "Answer only with information you are sure about and offer that a teammate can confirm the details.",
	domain.PolicyEscalate:   "Do not try to resolve this yourself. Acknowledge the message and say that a teammate will follow up.",
}

func categorySection(c database.MessageCategory, lang string) string {
	if c.Name == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s", c.Name)
	if c.Description != "" {
		fmt.Fprintf(&b, " (%s)", c.Description)
	}
	b.WriteString("\n")
	if p, ok := policyText[c.AIPolicy]; ok {
		b.WriteString(p + "\n")
	}
	if c.EscalationNote != "" {
		fmt.Fprintf(&b, "Escalation note: %s\n", c.EscalationNote)
	}
	fmt.Fprintf(&b, "These instructions are written in English; follow them but reply in %q.", lang)
	return b.String()
}

func knowledgeSection(k knowledge.Context) string {
	return k.String()
}

func goalSection(g GoalState) string {
	var goals []string
	for _, in := range []domain.Intent{g.Primary, g.Secondary} {
		if in != "" && in != domain.IntentNone {
			goals = append(goals, string(in))
		}
	}
	if len(goals) == 0 && (g.Active == "" || g.Active == domain.IntentNone) {
		return ""
	}

	var b strings.Builder
	if len(goals) > 0 {
		fmt.Fprintf(&b, "Business goals: %s.\n", strings.Join(goals, ", "))
	}
	if g.Detected != "" && g.Detected != domain.IntentNone {
		fmt.Fprintf(&b, "Detected intent: %s.\n", g.Detected)
	}
	if g.Active != "" && g.Active != domain.IntentNone {
		fmt.Fprintf(&b, "Active goal: %s (%s).\n", g.Active, g.Status)
		if len(g.Collected) > 0 {
			keys := make([]string, 0, len(g.Collected))
			for k := range g.Collected {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, len(keys))
			for i, k := range keys {
				pairs[i] = k + "=" + g.Collected[k]
			}
			fmt.Fprintf(&b, "Already collected: %s.\n", strings.Join(pairs, ", "))
		}
		if len(g.Missing) > 0 {
			labels := make([]string, len(g.Missing))
			for i, f := range g.Missing {
				labels[i] = fmt.Sprintf("%s (key %q)", f.Label, f.Key)
			}
			fmt.Fprintf(&b, "Still needed: %s. Ask for at most one of these.\n", strings.Join(labels, ", "))
		} else {
			b.WriteString("All details are collected. Confirm and do not ask for more.\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func historySection(msgs []database.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		body := strings.TrimSpace(m.Body)
		if body == "" {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Text: body})
	}
	return turns
}

func latestSection(latest, translation string, atts []domain.Attachment) string {
	var b strings.Builder
	b.WriteString(latest)
	if translation != "" && !strings.EqualFold(strings.TrimSpace(translation), latest) {
		fmt.Fprintf(&b, "\n(English: %s)", translation)
	}
	for _, a := range atts {
		if a.Transcription != "" {
			fmt.Fprintf(&b, "\n[%s transcription] %s", a.Type, a.Transcription)
		} else if !a.Visual() {
			fmt.Fprintf(&b, "\n[%s attached]", a.Type)
		}
	}
	return strings.TrimSpace(b.String())
}

func mediaSection(atts []domain.Attachment) []Media {
	var out []Media
	for _, a := range atts {
		if !a.Visual() {
			continue
		}
		mime := a.MIMEType
		if mime == "" {
			mime = "image/jpeg"
			if a.Type == domain.AttachmentVideo {
				mime = "video/mp4"
			}
		}
		out = append(out, Media{Type: a.Type, URL: a.URL, MIMEType: mime, Data: a.Data})
	}
	return out
}
