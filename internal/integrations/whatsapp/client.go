// Package whatsapp delivers outbound text messages through the WhatsApp
// Cloud API and decodes inbound webhook payloads.
package whatsapp

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
)

const (
	defaultGraphURL = "https://graph.facebook.com"
	graphVersion    = "v22.0"
)

type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Client sends messages from one business phone number.
type Client struct {
	baseURL       string
	phoneNumberID string
	httpClient    *http.Client
	tokens        TokenProvider
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

func NewClient(tokens TokenProvider, phoneNumberID string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("whatsapp: token provider must not be nil")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	c := &Client{
		baseURL:       defaultGraphURL,
		phoneNumberID: phoneNumberID,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		tokens:        tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func messagesURL(baseURL, phoneNumberID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultGraphURL
	}
	return fmt.Sprintf("%s/%s/%s/messages", base, graphVersion, phoneNumberID)
}

// Deliver sends text to recipient (an E.164 number without "+") and returns
// the provider message id.
func (c *Client) Deliver(ctx context.Context, recipient, text string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", errors.New("whatsapp: recipient must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("whatsapp: text must not be empty")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("whatsapp: resolve token: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := messagesURL(c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload sendResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("whatsapp: decode response: %w", err)
	}
	if len(payload.Messages) == 0 {
		return "", nil
	}
	return payload.Messages[0].ID, nil
}
