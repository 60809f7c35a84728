package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WebhookPayload mirrors the parts of the Cloud API notification we read.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []InboundMessage `json:"messages"`
}

type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Body returns the text body, or "" for non-text messages.
func (m InboundMessage) Body() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Body
}

// ParseWebhook decodes body and returns the first inbound message. ok is false
// when the notification carries no message (delivery/read status callbacks).
func ParseWebhook(body []byte) (msg InboundMessage, ok bool, err error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return InboundMessage{}, false, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return InboundMessage{}, false, nil
	}
	messages := payload.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return InboundMessage{}, false, nil
	}
	msg = messages[0]
	if strings.TrimSpace(msg.From) == "" {
		return InboundMessage{}, false, fmt.Errorf("whatsapp: message %q has no sender", msg.ID)
	}
	return msg, true, nil
}
