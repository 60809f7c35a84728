package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"triage-agent/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int                `json:"index"`
		Message      domain.ChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
}

// TokenProvider supplies the bearer token. paramstore.TokenSource and
// paramstore.StaticToken satisfy it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for OpenAI-compatible chat completion endpoints.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenProvider
	temperature *float64
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTemperature sets the sampling temperature for free-text dialogue calls.
// JSON extraction calls always use temperature 0.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// NewClient creates a Client that authenticates with tokens. The token is
// resolved on every request; TokenSource caches it after the first fetch.
func NewClient(tokens TokenProvider, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("openai: token provider must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// chatURL accepts both bare hosts and versioned base paths, including
// OpenAI-compatible gateways such as ".../v1beta/openai".
func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") || strings.HasSuffix(base, "/openai") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Chat returns the free-text reply for messages.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	return c.complete(ctx, chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
	})
}

// ChatJSON asks for a reply constrained to schema and returns the raw JSON text.
func (c *Client) ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage, schemaName string, schema json.RawMessage) (string, error) {
	if strings.TrimSpace(schemaName) == "" || len(schema) == 0 {
		return "", errors.New("openai: schema name and schema are required")
	}
	zero := 0.0
	return c.complete(ctx, chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &zero,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaConfig{
				Name:   schemaName,
				Strict: true,
				Schema: schema,
			},
		},
	})
}

func (c *Client) complete(ctx context.Context, in chatRequest) (string, error) {
	if strings.TrimSpace(in.Model) == "" {
		return "", errors.New("openai: model must not be empty")
	}
	if len(in.Messages) == 0 {
		return "", errors.New("openai: messages must not be empty")
	}

	apiKey, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("openai: resolve token: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
