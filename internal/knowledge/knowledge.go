// Package knowledge assembles the business knowledge handed to the reply
// generator: general entries ranked against the customer text, then the
// guidance of the resolved category.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/llm"
	"github.com/edgard/inboxpilot/internal/text"
)

// per-entry formatting overhead in tokens
const entryOverhead = 8

// Source reads the knowledge records of a workspace.
type Source interface {
	ListKnowledgeEntries(ctx context.Context, workspaceID string) ([]database.KnowledgeEntry, error)
	GetCategoryKnowledge(ctx context.Context, workspaceID, categoryID string) (*database.CategoryKnowledge, error)
}

// Entry is one general knowledge article.
type Entry struct {
	Title string
	Body  string
}

func (e Entry) String() string {
	if e.Title == "" {
		return e.Body
	}
	return e.Title + ": " + e.Body
}

// Context is the resolved knowledge. The zero value is valid and empty.
type Context struct {
	Entries          []Entry
	CategoryName     string
	CategoryGuidance string
}

// Empty reports whether nothing is configured.
func (c Context) Empty() bool {
	return len(c.Entries) == 0 && strings.TrimSpace(c.CategoryGuidance) == ""
}

// String formats the context for a prompt.
func (c Context) String() string {
	var b strings.Builder
	if len(c.Entries) > 0 {
		b.WriteString("General knowledge:\n")
		for _, e := range c.Entries {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if g := strings.TrimSpace(c.CategoryGuidance); g != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Guidance for %s:\n%s\n", c.CategoryName, g)
	}
	return strings.TrimSpace(b.String())
}

// Resolver builds Context values.
type Resolver struct {
	source    Source
	client    llm.Client
	topK      int
	maxTokens int
	log       *slog.Logger
}

func NewResolver(source Source, client llm.Client, topK, maxTokens int, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		source:    source,
		client:    client,
		topK:      topK,
		maxTokens: maxTokens,
		log:       log.With("component", "knowledge"),
	}
}

// Resolve returns the knowledge for the workspace and, when category is not
// nil, the category guidance. query ranks the general entries. Read failures
// propagate; embedding failures do not.
func (r *Resolver) Resolve(ctx context.Context, workspaceID string, category *database.MessageCategory, query string) (Context, error) {
	var out Context

	if category != nil && category.ID != "" {
		ck, err := r.source.GetCategoryKnowledge(ctx, workspaceID, category.ID)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return Context{}, fmt.Errorf("failed to load category guidance: %w", err)
		default:
			out.CategoryName = category.Name
			out.CategoryGuidance = strings.TrimSpace(ck.Guidance)
		}
	}

	rows, err := r.source.ListKnowledgeEntries(ctx, workspaceID)
	if err != nil {
		return Context{}, fmt.Errorf("failed to load knowledge entries: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Body) == "" {
			continue
		}
		entries = append(entries, Entry{Title: strings.TrimSpace(row.Title), Body: strings.TrimSpace(row.Body)})
	}

	entries = Rerank(ctx, r.client, query, entries, r.topK, r.log)
	out.Entries = r.fit(entries, out.CategoryGuidance)
	return out, nil
}

// fit keeps the leading entries that fit the token budget left after the
// category guidance.
func (r *Resolver) fit(entries []Entry, guidance string) []Entry {
	if r.maxTokens <= 0 || len(entries) == 0 {
		return entries
	}
	budget := r.maxTokens - text.CountTokens(guidance)
	if budget <= 0 {
		return nil
	}
	items := make([]string, len(entries))
	for i, e := range entries {
		items[i] = e.String()
	}
	return entries[:text.FitBudget(items, budget, entryOverhead)]
}

// Rerank orders candidates by embedding similarity to query and keeps the
// best topK. On any embedding failure it passes the first topK candidates
// through unchanged.
func Rerank(ctx context.Context, client llm.Client, query string, candidates []Entry, topK int, log *slog.Logger) []Entry {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	if len(candidates) <= 1 || strings.TrimSpace(query) == "" {
		return candidates[:topK]
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, c.String())
	}

	vectors, err := client.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		if log != nil && !errors.Is(err, llm.ErrNoCredentials) {
			log.WarnContext(ctx, "Rerank unavailable, keeping stored order", "error", err, "vectors", len(vectors))
		}
		return candidates[:topK]
	}

	type scored struct {
		entry Entry
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{entry: c, score: llm.Cosine(vectors[0], vectors[i+1])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]Entry, topK)
	for i := range out {
		out[i] = ranked[i].entry
	}
	return out
}
