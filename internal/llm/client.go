package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxTokens = 2048

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// Client calls one provider's chat-completion endpoint.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	http      *http.Client
	logger    zerolog.Logger
}

// Option configures the client.
type Option func(*Client)

func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "llm").Logger() }
}

// WithBaseURL overrides the provider base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient constructs a chat client for the provider. An empty model
// falls back to the provider default.
func NewClient(p Provider, apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = p.DefaultModel
	}
	c := &Client{
		baseURL:   p.BaseURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: defaultMaxTokens,
		http:      &http.Client{Timeout: 120 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the model id this client sends.
func (c *Client) Model() string { return c.model }

// ---- wire types (OpenAI-compatible chat completions) ----

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends system prompt + history + the new user input and returns the
// assistant reply text. Blocking; no retries, transient failures surface
// to the caller.
func (c *Client) Chat(ctx context.Context, systemPrompt string, history []Message, userInput string) (string, error) {
	msgs := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: userInput})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs, MaxTokens: c.maxTokens})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("llm api error %s: %s", cr.Error.Type, cr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm api status %d", resp.StatusCode)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("llm api returned no choices")
	}

	reply := cr.Choices[0].Message.Content
	c.logger.Debug().
		Str("model", c.model).
		Int("history_len", len(history)).
		Int("reply_bytes", len(reply)).
		Msg("chat completion")
	return reply, nil
}
