// Package buffer coalesces rapid inbound messages per conversation so the
// decision engine answers a burst once.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/metrics"
)

// Item is one buffered customer message.
type Item struct {
	MessageID   int64
	Text        string
	Attachments []domain.Attachment
	ReceivedAt  time.Time
}

// Entry is the burst of one conversation.
type Entry struct {
	ConversationID string
	WorkspaceID    string
	Items          []Item
	FirstAt        time.Time
	LastAt         time.Time
}

// Text joins the non-empty item texts with newlines.
func (e Entry) Text() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		if t := strings.TrimSpace(it.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// MessageIDs returns the stored ids of the items, skipping unsaved ones.
func (e Entry) MessageIDs() []int64 {
	ids := make([]int64, 0, len(e.Items))
	for _, it := range e.Items {
		if it.MessageID > 0 {
			ids = append(ids, it.MessageID)
		}
	}
	return ids
}

// Attachments returns the attachments of every item in arrival order.
func (e Entry) Attachments() []domain.Attachment {
	var out []domain.Attachment
	for _, it := range e.Items {
		out = append(out, it.Attachments...)
	}
	return out
}

// FlushFunc runs one decision cycle for a due entry.
type FlushFunc func(ctx context.Context, e Entry) error

// Config tunes the buffer windows.
type Config struct {
	Debounce    time.Duration // quiet time that makes an entry due
	MaxWait     time.Duration // age that makes an entry due regardless
	Concurrency int           // entries flushed in parallel
}

// Stats summarizes one ProcessDue call.
type Stats struct {
	Flushed int
	Failed  int
}

// Buffer holds pending entries keyed by conversation.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cfg     Config
	flush   FlushFunc
	now     func() time.Time
	log     *slog.Logger
}

func New(cfg Config, flush FlushFunc, log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxWait < cfg.Debounce {
		cfg.MaxWait = cfg.Debounce
	}
	return &Buffer{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		flush:   flush,
		now:     time.Now,
		log:     log.With("component", "buffer"),
	}
}

// SetClock replaces the time source.
func (b *Buffer) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Add appends item to the conversation's entry, opening one if needed.
func (b *Buffer) Add(conversationID, workspaceID string, item Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = now
	}
	e, ok := b.entries[conversationID]
	if !ok {
		e = &Entry{ConversationID: conversationID, WorkspaceID: workspaceID, FirstAt: now}
		b.entries[conversationID] = e
	}
	e.Items = append(e.Items, item)
	e.LastAt = now
	metrics.BufferPending.Set(float64(len(b.entries)))
}

// Pending returns the number of conversations waiting.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) due(e *Entry, now time.Time) bool {
	return !now.Before(e.LastAt.Add(b.cfg.Debounce)) || !now.Before(e.FirstAt.Add(b.cfg.MaxWait))
}

// TakeDue removes and returns every due entry, oldest first. An entry is
// returned by exactly one call.
func (b *Buffer) TakeDue(now time.Time) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for id, e := range b.entries {
		if b.due(e, now) {
			out = append(out, *e)
			delete(b.entries, id)
		}
	}
	metrics.BufferPending.Set(float64(len(b.entries)))
	sort.Slice(out, func(i, j int) bool { return out[i].FirstAt.Before(out[j].FirstAt) })
	return out
}

// ProcessDue flushes every due entry with bounded parallelism. A failing or
// panicking flush is logged and counted; it never stops the others.
func (b *Buffer) ProcessDue(ctx context.Context) Stats {
	b.mu.Lock()
	now := b.now()
	b.mu.Unlock()

	return b.flushAll(ctx, b.TakeDue(now))
}

// Drain flushes every pending entry, due or not. It is called once on
// shutdown so buffered messages still get their cycle.
func (b *Buffer) Drain(ctx context.Context) Stats {
	b.mu.Lock()
	all := make([]Entry, 0, len(b.entries))
	for id, e := range b.entries {
		all = append(all, *e)
		delete(b.entries, id)
	}
	metrics.BufferPending.Set(0)
	b.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].FirstAt.Before(all[j].FirstAt) })
	stats := b.flushAll(ctx, all)
	if len(all) > 0 {
		b.log.InfoContext(ctx, "Buffer drained", "flushed", stats.Flushed, "failed", stats.Failed)
	}
	return stats
}

func (b *Buffer) flushAll(ctx context.Context, entries []Entry) Stats {
	if len(entries) == 0 {
		return Stats{}
	}

	var flushed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(b.cfg.Concurrency)
	for _, e := range entries {
		g.Go(func() error {
			if err := b.flushOne(ctx, e); err != nil {
				failed.Add(1)
				metrics.BufferFlushes.WithLabelValues("failed").Inc()
				b.log.ErrorContext(ctx, "Buffer flush failed",
					"conversation_id", e.ConversationID, "messages", len(e.Items), "error", err)
				return nil
			}
			flushed.Add(1)
			metrics.BufferFlushes.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	stats := Stats{Flushed: int(flushed.Load()), Failed: int(failed.Load())}
	b.log.DebugContext(ctx, "Buffer processed", "flushed", stats.Flushed, "failed", stats.Failed)
	return stats
}

func (b *Buffer) flushOne(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in flush: %v", r)
		}
	}()
	return b.flush(ctx, e)
}
