package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBuffer(t *testing.T, flush FlushFunc) (*Buffer, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	b := New(Config{Debounce: 5 * time.Second, MaxWait: 30 * time.Second, Concurrency: 2}, flush, nil)
	b.SetClock(c.Now)
	return b, c
}

func TestBurstFlushesOnce(t *testing.T) {
	var mu sync.Mutex
	var got []Entry
	b, c := newBuffer(t, func(_ context.Context, e Entry) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		return nil
	})

	b.Add("c1", "w1", Item{MessageID: 1, Text: "hi"})
	c.Advance(2 * time.Second)
	b.Add("c1", "w1", Item{MessageID: 2, Text: "I want to order"})
	c.Advance(2 * time.Second)
	b.Add("c1", "w1", Item{MessageID: 3, Text: "2 pizzas"})

	c.Advance(4 * time.Second)
	assert.Equal(t, Stats{}, b.ProcessDue(context.Background()), "still inside the debounce window")

	c.Advance(time.Second)
	stats := b.ProcessDue(context.Background())
	assert.Equal(t, Stats{Flushed: 1}, stats)
	require.Len(t, got, 1)
	assert.Equal(t, "hi\nI want to order\n2 pizzas", got[0].Text())
	assert.Equal(t, []int64{1, 2, 3}, got[0].MessageIDs())
	assert.Zero(t, b.Pending())

	assert.Equal(t, Stats{}, b.ProcessDue(context.Background()), "entries are taken once")
}

func TestMaxWaitForcesFlush(t *testing.T) {
	b, c := newBuffer(t, func(context.Context, Entry) error { return nil })

	b.Add("c1", "w1", Item{Text: "a"})
	for range 8 {
		c.Advance(4 * time.Second)
		b.Add("c1", "w1", Item{Text: "more"})
	}
	due := b.TakeDue(c.Now())
	require.Len(t, due, 1)
	assert.Len(t, due[0].Items, 9)
}

func TestFailuresAreIsolated(t *testing.T) {
	b, c := newBuffer(t, func(_ context.Context, e Entry) error {
		switch e.ConversationID {
		case "bad":
			return errors.New("boom")
		case "panic":
			panic("flush exploded")
		}
		return nil
	})

	b.Add("ok1", "w1", Item{Text: "x"})
	b.Add("bad", "w1", Item{Text: "x"})
	b.Add("panic", "w1", Item{Text: "x"})
	b.Add("ok2", "w1", Item{Text: "x"})
	c.Advance(10 * time.Second)

	stats := b.ProcessDue(context.Background())
	assert.Equal(t, Stats{Flushed: 2, Failed: 2}, stats)
}

func TestTakeDueIsExclusive(t *testing.T) {
	b, c := newBuffer(t, nil)
	for i := range 50 {
		b.Add(string(rune('a'+i%26))+string(rune('a'+i/26)), "w1", Item{Text: "x"})
	}
	c.Advance(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(b.TakeDue(c.Now()))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, total)
}

func TestEntryAttachments(t *testing.T) {
	e := Entry{Items: []Item{{Text: "  "}, {Text: "hello"}}}
	assert.Equal(t, "hello", e.Text())
	assert.Empty(t, e.MessageIDs())
	assert.Empty(t, e.Attachments())
}

func TestDrainFlushesPendingEntries(t *testing.T) {
	var mu sync.Mutex
	var got []string
	b, c := newBuffer(t, func(_ context.Context, e Entry) error {
		mu.Lock()
		got = append(got, e.ConversationID)
		mu.Unlock()
		return nil
	})

	b.Add("c1", "w1", Item{MessageID: 1, Text: "first"})
	c.Advance(time.Second)
	b.Add("c2", "w1", Item{MessageID: 2, Text: "second"})

	assert.Equal(t, Stats{}, b.ProcessDue(context.Background()), "nothing is due yet")

	stats := b.Drain(context.Background())
	assert.Equal(t, Stats{Flushed: 2}, stats)
	assert.Zero(t, b.Pending())
	mu.Lock()
	assert.ElementsMatch(t, []string{"c1", "c2"}, got)
	mu.Unlock()

	assert.Equal(t, Stats{}, b.Drain(context.Background()), "drained entries are not flushed twice")
}
