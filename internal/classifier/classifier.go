// Package classifier assigns a category, language and English translation to
// customer text.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/llm"
)

const maxExamples = 3

// CategorySource loads the categories of a workspace, seeding the system set
// when none exist.
type CategorySource interface {
	EnsureCategories(ctx context.Context, workspaceID string) ([]database.MessageCategory, error)
}

// Options carries per-workspace overrides.
type Options struct {
	Model           string
	Temperature     *float32
	DefaultLanguage string
}

// Result is the outcome of a classification. Category always points at one
// of the workspace categories.
type Result struct {
	Language     string
	CategoryName string
	Translation  string
	Confidence   float64
	Category     database.MessageCategory
	Fallback     bool
}

type modelAnswer struct {
	DetectedLanguage string  `json:"detectedLanguage"`
	CategoryName     string  `json:"categoryName"`
	TranslatedText   string  `json:"translatedText"`
	Confidence       float64 `json:"confidence"`
}

// Classifier calls the language model with the workspace category list.
type Classifier struct {
	client     llm.Client
	categories CategorySource
	log        *slog.Logger
	rules      []ClampRule
}

// New creates a Classifier that applies DefaultRules to model confidence.
func New(client llm.Client, categories CategorySource, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		client:     client,
		categories: categories,
		log:        log.With("component", "classifier"),
		rules:      DefaultRules(),
	}
}

// Classify never fails: any collaborator error yields the catch-all default.
// text must be non-empty after trimming.
func (c *Classifier) Classify(ctx context.Context, text, workspaceID string, opts Options) Result {
	cats, err := c.categories.EnsureCategories(ctx, workspaceID)
	if err != nil || len(cats) == 0 {
		c.log.WarnContext(ctx, "Using system categories", "workspace_id", workspaceID, "error", err)
		cats = database.SystemCategories(workspaceID)
	}

	lang := opts.DefaultLanguage
	if lang == "" {
		lang = "en"
	}

	req := llm.Request{
		Operation:   llm.OpClassify,
		System:      systemPrompt(cats),
		Messages:    []llm.Message{llm.Text(llm.RoleUser, text)},
		Schema:      schema(cats),
		Model:       opts.Model,
		Temperature: opts.Temperature,
	}

	var answer modelAnswer
	if err := c.client.GenerateJSON(ctx, req, &answer); err != nil {
		c.log.WarnContext(ctx, "Classification failed, using default", "workspace_id", workspaceID, "error", err)
		return Default(cats, lang)
	}

	cat := Coerce(answer.CategoryName, cats)
	if !strings.EqualFold(strings.TrimSpace(answer.CategoryName), cat.Name) {
		c.log.InfoContext(ctx, "Coerced unknown category", "returned", answer.CategoryName, "category", cat.Name)
	}

	res := Result{
		Language:     strings.ToLower(strings.TrimSpace(answer.DetectedLanguage)),
		CategoryName: cat.Name,
		Translation:  strings.TrimSpace(answer.TranslatedText),
		Category:     cat,
		Confidence:   Apply(answer.Confidence, ClampInput{Text: text, Description: cat.Description}, c.rules...),
	}
	if res.Language == "" {
		res.Language = lang
	}
	if res.Translation == "" {
		res.Translation = text
	}
	c.log.DebugContext(ctx, "Message classified",
		"category", res.CategoryName, "language", res.Language,
		"raw_confidence", answer.Confidence, "confidence", res.Confidence)
	return res
}

// Coerce returns the category named name (case-insensitive), else the
// catch-all category, else the first category.
func Coerce(name string, cats []database.MessageCategory) database.MessageCategory {
	name = strings.TrimSpace(name)
	var catchAll *database.MessageCategory
	for i := range cats {
		if strings.EqualFold(cats[i].Name, name) {
			return cats[i]
		}
		if catchAll == nil && strings.EqualFold(cats[i].Name, database.CatchAllCategory) {
			catchAll = &cats[i]
		}
	}
	if catchAll != nil {
		return *catchAll
	}
	return cats[0]
}

// Default is the safe result used when classification is unavailable.
func Default(cats []database.MessageCategory, language string) Result {
	cat := Coerce(database.CatchAllCategory, cats)
	return Result{
		Language:     language,
		CategoryName: cat.Name,
		Category:     cat,
		Confidence:   0,
		Fallback:     true,
	}
}

func systemPrompt(cats []database.MessageCategory) string {
	var b strings.Builder
	b.WriteString("You classify customer messages sent to a business inbox.\n")
	b.WriteString("Detect the message language as an ISO 639-1 code, translate the message to English, ")
	b.WriteString("pick exactly one category from the list below and rate your confidence from 0 to 1.\n\n")
	b.WriteString("Categories:\n")
	for _, cat := range cats {
		fmt.Fprintf(&b, "- %s", cat.Name)
		if cat.Description != "" {
			fmt.Fprintf(&b, ": %s", cat.Description)
		}
		if n := min(len(cat.Examples), maxExamples); n > 0 {
			fmt.Fprintf(&b, " (e.g. %q)", strings.Join(cat.Examples[:n], `", "`))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func schema(cats []database.MessageCategory) *llm.Schema {
	names := make([]string, len(cats))
	for i, cat := range cats {
		names[i] = cat.Name
	}
	return &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"detectedLanguage": {Type: llm.TypeString, Description: "ISO 639-1 language code"},
			"categoryName":     {Type: llm.TypeString, Enum: names},
			"translatedText":   {Type: llm.TypeString, Description: "English translation of the message"},
			"confidence":       {Type: llm.TypeNumber},
		},
		Required: []string{"detectedLanguage", "categoryName", "translatedText", "confidence"},
	}
}
