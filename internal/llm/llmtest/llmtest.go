// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/edgard/inboxpilot/internal/llm"
)

// Handler answers one request with raw JSON text or an error.
type Handler func(req llm.Request) (string, error)

// Client returns canned responses per operation and records every request.
type Client struct {
	mu       sync.Mutex
	handlers map[llm.Operation]Handler
	embed    func(texts []string) ([][]float32, error)
	calls    []llm.Request
}

var _ llm.Client = (*Client)(nil)

// New returns a Client with no scripted responses. Unscripted operations fail.
func New() *Client {
	return &Client{handlers: make(map[llm.Operation]Handler)}
}

// On installs a handler for op.
func (c *Client) On(op llm.Operation, h Handler) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = h
	return c
}

// Respond makes op answer with v encoded as JSON.
func (c *Client) Respond(op llm.Operation, v any) *Client {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("llmtest: cannot encode response for %s: %v", op, err))
	}
	return c.On(op, func(llm.Request) (string, error) { return string(b), nil })
}

// Fail makes op return err.
func (c *Client) Fail(op llm.Operation, err error) *Client {
	return c.On(op, func(llm.Request) (string, error) { return "", err })
}

// OnEmbed installs the embedding function.
func (c *Client) OnEmbed(fn func(texts []string) ([][]float32, error)) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embed = fn
	return c
}

// Calls returns the recorded requests for op.
func (c *Client) Calls(op llm.Operation) []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []llm.Request
	for _, r := range c.calls {
		if r.Operation == op {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) GenerateJSON(ctx context.Context, req llm.Request, out any) error {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	h, ok := c.handlers[req.Operation]
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("llmtest: no response scripted for %s", req.Operation)
	}
	text, err := h(req)
	if err != nil {
		return err
	}
	// a handler that outlives the deadline behaves like a timed-out provider
	if err := ctx.Err(); err != nil {
		return err
	}
	return llm.DecodeJSON(text, out)
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	fn := c.embed
	c.mu.Unlock()
	if fn == nil {
		return nil, llm.ErrNoCredentials
	}
	return fn(texts)
}
