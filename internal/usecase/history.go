package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"triage-agent/internal/domain"
	"triage-agent/internal/guard"
)

const DefaultHistoryLimit = 50

// TruncationPolicy decides what survives a session marker in history.
type TruncationPolicy string

const (
	// TruncateReset drops the whole window once any marker is found.
	TruncateReset TruncationPolicy = "reset"
	// TruncateAfterMarker keeps the turns after the most recent marker.
	TruncateAfterMarker TruncationPolicy = "after_marker"
)

func ParseTruncationPolicy(s string) (TruncationPolicy, error) {
	switch p := TruncationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return TruncateReset, nil
	case TruncateReset, TruncateAfterMarker:
		return p, nil
	default:
		return "", fmt.Errorf("usecase: unknown history truncation policy %q", s)
	}
}

type TurnReader interface {
	ReadTurns(ctx context.Context, conversationID string, limit int) ([]domain.ConversationTurn, error)
}

// HistorySelector returns the turns that belong to the current triage
// attempt of a conversation.
type HistorySelector struct {
	reader TurnReader
	limit  int
	policy TruncationPolicy
}

func NewHistorySelector(reader TurnReader, limit int, policy TruncationPolicy) (*HistorySelector, error) {
	if reader == nil {
		return nil, errors.New("usecase: turn reader must not be nil")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if policy == "" {
		policy = TruncateReset
	}
	if policy != TruncateReset && policy != TruncateAfterMarker {
		return nil, fmt.Errorf("usecase: unknown history truncation policy %q", policy)
	}
	return &HistorySelector{reader: reader, limit: limit, policy: policy}, nil
}

// Relevant reads the configured window of turns that precede currentTurnID,
// oldest first, and truncates it at the most recent advisory or completion
// marker. The current turn is read on top of the window and then dropped, so
// it never takes a slot.
//
// Messaging conversations are keyed by sender and never get a fresh id, so
// they always keep the turns after the marker.
func (h *HistorySelector) Relevant(ctx context.Context, conversationID string, channel domain.Channel, currentTurnID string) ([]domain.ConversationTurn, error) {
	limit := h.limit
	if currentTurnID != "" {
		limit++
	}
	turns, err := h.reader.ReadTurns(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	turns = withoutTurn(selectRelevant(turns, h.policyFor(channel)), currentTurnID)
	if len(turns) > h.limit {
		turns = turns[len(turns)-h.limit:]
	}
	return turns, nil
}

func (h *HistorySelector) policyFor(channel domain.Channel) TruncationPolicy {
	if channel == domain.ChannelMessaging {
		return TruncateAfterMarker
	}
	return h.policy
}

func selectRelevant(turns []domain.ConversationTurn, policy TruncationPolicy) []domain.ConversationTurn {
	for i := len(turns) - 1; i >= 0; i-- {
		if !closesSession(turns[i].AgentText) {
			continue
		}
		if policy == TruncateAfterMarker {
			return append([]domain.ConversationTurn(nil), turns[i+1:]...)
		}
		return nil
	}
	return turns
}

func closesSession(agentText string) bool {
	return guard.IsAdvisory(agentText) || guard.IsCompletion(agentText)
}

func withoutTurn(turns []domain.ConversationTurn, id string) []domain.ConversationTurn {
	if id == "" || len(turns) == 0 {
		return turns
	}
	out := make([]domain.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
