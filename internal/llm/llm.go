// Package llm defines the provider-neutral language-model contract used by the
// classifier, intent detector, knowledge resolver and reply generator.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoCredentials is returned by a Client that has no provider configured.
var ErrNoCredentials = errors.New("no language model credentials configured")

// Operation names a kind of call; providers use it for logging and metrics.
type Operation string

const (
	OpClassify Operation = "classify"
	OpIntent   Operation = "intent"
	OpReply    Operation = "reply"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one piece of message content: text, inline media bytes, or a media URI.
type Part struct {
	Text     string
	MediaURI string
	MIMEType string
	Data     []byte
}

// Message is one prompt turn.
type Message struct {
	Role  Role
	Parts []Part
}

// Text builds a single-part text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Type is a JSON schema type.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema is the subset of JSON schema both providers can express.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Request is a single structured-output call.
type Request struct {
	Operation       Operation
	System          string
	Messages        []Message
	Schema          *Schema
	Model           string   // empty selects the provider default
	Temperature     *float32 // nil selects the provider default
	ReasoningBudget *int32
}

// Client is a language-model collaborator.
type Client interface {
	// GenerateJSON runs req and decodes the JSON answer into out.
	GenerateJSON(ctx context.Context, req Request, out any) error
	// Embed returns one vector per text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Disabled is the Client used when no provider is configured. Every call
// fails with ErrNoCredentials so callers take their fallback paths.
type Disabled struct{}

func (Disabled) GenerateJSON(context.Context, Request, any) error { return ErrNoCredentials }

func (Disabled) Embed(context.Context, []string) ([][]float32, error) { return nil, ErrNoCredentials }

// DecodeJSON unmarshals model output into out, tolerating markdown code fences.
func DecodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return errors.New("empty model response")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("invalid JSON in model response: %w", err)
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
