// Package openai implements the llm.Client contract on the OpenAI chat and
// embeddings APIs, or any server compatible with them.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/edgard/inboxpilot/internal/config"
	"github.com/edgard/inboxpilot/internal/llm"
)

// Client is an OpenAI-backed llm.Client.
type Client struct {
	openAIClient   *openai.Client
	log            *slog.Logger
	model          string
	embeddingModel string
	temperature    float32
	maxRetries     int
	retryDelay     time.Duration
}

var _ llm.Client = (*Client)(nil)

// New creates a client from the llm configuration section.
func New(cfg config.LLMConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", llm.ErrNoCredentials)
	}
	if log == nil {
		log = slog.Default()
	}

	openAICfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openAICfg.BaseURL = cfg.BaseURL
	}
	openAICfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger := log.With("component", "openai_client")
	logger.Info("OpenAI client initialized", "model", cfg.Model, "base_url", openAICfg.BaseURL)
	return &Client{
		openAIClient:   openai.NewClientWithConfig(openAICfg),
		log:            logger,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
	}, nil
}

func retriable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return false
}

// GenerateJSON runs req in JSON-object mode. The schema travels in the system
// prompt because this API version has no schema-constrained output.
func (c *Client) GenerateJSON(ctx context.Context, req llm.Request, out any) error {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	request := openai.ChatCompletionRequest{
		Model:          model,
		Messages:       buildMessages(req),
		Temperature:    temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.openAIClient.CreateChatCompletion(ctx, request)
		if err == nil || !retriable(err) || attempt == c.maxRetries {
			break
		}
		c.log.WarnContext(ctx, "Retrying OpenAI call", "operation", req.Operation, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	if err != nil {
		c.log.ErrorContext(ctx, "OpenAI generation failed", "operation", req.Operation, "error", err)
		return fmt.Errorf("openai API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("%s returned no choices", req.Operation)
	}
	if err := llm.DecodeJSON(resp.Choices[0].Message.Content, out); err != nil {
		c.log.ErrorContext(ctx, "Failed to parse OpenAI JSON response", "operation", req.Operation, "error", err)
		return fmt.Errorf("%s: %w", req.Operation, err)
	}
	return nil
}

// Embed returns one embedding per text, ordered by input index.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.embeddingModel == "" {
		return nil, errors.New("openai: no embedding model configured")
	}
	resp, err := c.openAIClient.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed failed: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

func buildMessages(req llm.Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	system := req.System
	if req.Schema != nil {
		if schema, err := json.Marshal(req.Schema); err == nil {
			system = strings.TrimSpace(system + "\n\nRespond with a single JSON object matching this JSON schema:\n" + string(schema))
		}
	}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == llm.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}

		hasMedia := false
		for _, p := range m.Parts {
			if len(p.Data) > 0 || p.MediaURI != "" {
				hasMedia = true
				break
			}
		}
		if !hasMedia || role == openai.ChatMessageRoleAssistant {
			var texts []string
			for _, p := range m.Parts {
				if p.Text != "" {
					texts = append(texts, p.Text)
				}
			}
			if len(texts) > 0 {
				messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: strings.Join(texts, "\n")})
			}
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch {
			case len(p.Data) > 0 && strings.HasPrefix(p.MIMEType, "image/"):
				url := "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
				})
			case p.MediaURI != "" && strings.HasPrefix(p.MIMEType, "image/"):
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.MediaURI, Detail: openai.ImageURLDetailAuto},
				})
			case p.MediaURI != "":
				// Only images are accepted inline; other media go by reference.
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: fmt.Sprintf("[%s attachment: %s]", p.MIMEType, p.MediaURI),
				})
			case p.Text != "":
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
			}
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return messages
}
