package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"triage-agent/internal/domain"
	"triage-agent/internal/guard"
	"triage-agent/internal/triage"
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	ChatJSON(ctx context.Context, model string, messages []domain.ChatMessage, schemaName string, schema json.RawMessage) (string, error)
}

// Signal is the typed control outcome of a dialogue call.
type Signal string

const (
	SignalContinue  Signal = "continue"
	SignalComplete  Signal = "complete"
	SignalEmergency Signal = "emergency"
)

type DialogueResult struct {
	Reply  string
	Signal Signal
}

var errEmptyReply = errors.New("usecase: backend returned an empty reply")

// speakerLabels are stripped from the start of a reply. Lowercase.
var speakerLabels = []string{"agent:", "assistant:", "agente:", "triage agent:"}

// Backend is the only place that inspects generated text. Callers branch on
// DialogueResult.Signal.
type Backend struct {
	llm   LLMClient
	model string
	guard *guard.Guard
}

func NewBackend(llm LLMClient, model string, g *guard.Guard) (*Backend, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if g == nil {
		g = guard.New()
	}
	return &Backend{llm: llm, model: model, guard: g}, nil
}

func (b *Backend) Dialogue(ctx context.Context, history []domain.ConversationTurn, message string) (DialogueResult, error) {
	raw, err := b.llm.Chat(ctx, b.model, buildDialogueMessages(b.guard.Phrases(), history, message))
	if err != nil {
		return DialogueResult{}, err
	}
	reply := stripSpeakerLabel(raw)
	if reply == "" {
		return DialogueResult{}, errEmptyReply
	}
	return DialogueResult{Reply: reply, Signal: classifyReply(reply)}, nil
}

// Extract asks for the triage record as structured output and returns the
// raw payload for triage.Validate.
func (b *Backend) Extract(ctx context.Context, history []domain.ConversationTurn, message string) (string, error) {
	return b.llm.ChatJSON(ctx, b.model, buildExtractionMessages(history, message), triage.SchemaName, triage.Schema)
}

// classifyReply checks the advisory first so a reply carrying both markers
// still closes as an emergency.
func classifyReply(reply string) Signal {
	switch {
	case guard.IsAdvisory(reply):
		return SignalEmergency
	case guard.IsCompletion(reply):
		return SignalComplete
	default:
		return SignalContinue
	}
}

func stripSpeakerLabel(raw string) string {
	reply := strings.TrimSpace(raw)
	lowered := strings.ToLower(reply)
	for _, label := range speakerLabels {
		if strings.HasPrefix(lowered, label) {
			return strings.TrimSpace(reply[len(label):])
		}
	}
	return reply
}
