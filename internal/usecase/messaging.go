package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"triage-agent/internal/domain"
)

// UnsupportedMessageReply answers inbound media or other non-text messages.
const UnsupportedMessageReply = "For now I can only read text messages. Please describe how you are feeling in writing."

type InboundStatus string

const (
	StatusOK               InboundStatus = "ok"
	StatusEmergencyHandled InboundStatus = "emergency_handled"
	StatusCompleted        InboundStatus = "completed"
	StatusDuplicate        InboundStatus = "duplicate"
	StatusIgnored          InboundStatus = "ignored"
)

type TurnHandler interface {
	Handle(ctx context.Context, in TurnInput) (TurnOutput, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, recipient, text string) (string, error)
}

type Hasher interface {
	Hash(value string) string
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// InboundMessage is one message received on the messaging channel. Text is
// empty for media and other non-text payloads.
type InboundMessage struct {
	MessageID string
	From      string
	Text      string
}

// MessagingService adapts the messaging channel onto the dialogue.
type MessagingService struct {
	turns   TurnHandler
	deliver Deliverer
	hasher  Hasher
	dedup   Deduper
	logger  *zap.Logger
}

func NewMessagingService(turns TurnHandler, deliver Deliverer, hasher Hasher, dedup Deduper, logger *zap.Logger) (*MessagingService, error) {
	if turns == nil {
		return nil, errors.New("usecase: turn handler must not be nil")
	}
	if deliver == nil {
		return nil, errors.New("usecase: deliverer must not be nil")
	}
	if hasher == nil {
		return nil, errors.New("usecase: hasher must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagingService{turns: turns, deliver: deliver, hasher: hasher, dedup: dedup, logger: logger}, nil
}

// HandleInbound keys the conversation by the hashed sender so raw numbers
// never reach storage. A delivery failure is returned and not retried.
func (m *MessagingService) HandleInbound(ctx context.Context, in InboundMessage) (InboundStatus, error) {
	from := strings.TrimSpace(in.From)
	if from == "" {
		return StatusIgnored, nil
	}

	if !m.claim(ctx, in.MessageID) {
		m.logger.Info("duplicate inbound message", zap.String("message_id", in.MessageID))
		return StatusDuplicate, nil
	}

	if strings.TrimSpace(in.Text) == "" {
		if _, err := m.deliver.Deliver(ctx, from, UnsupportedMessageReply); err != nil {
			return "", newError(ErrorInternal, "delivery_error", err)
		}
		return StatusOK, nil
	}

	convID := m.hasher.Hash(from)
	out, err := m.turns.Handle(ctx, TurnInput{
		ConversationID: convID,
		UserID:         convID,
		Channel:        domain.ChannelMessaging,
		Message:        in.Text,
	})
	if err != nil {
		m.release(ctx, in.MessageID)
		return "", err
	}

	outboundID, err := m.deliver.Deliver(ctx, from, out.Response)
	if err != nil {
		return "", newError(ErrorInternal, "delivery_error", err)
	}
	m.logger.Info("reply delivered",
		zap.String("conversation_id", convID),
		zap.String("message_id", in.MessageID),
		zap.String("outbound_id", outboundID),
		zap.String("outcome", string(out.Outcome)),
	)

	switch out.Outcome {
	case OutcomeEmergency:
		return StatusEmergencyHandled, nil
	case OutcomeComplete:
		return StatusCompleted, nil
	default:
		return StatusOK, nil
	}
}

// claim is best effort: a dedup outage lets the message through.
func (m *MessagingService) claim(ctx context.Context, messageID string) bool {
	if m.dedup == nil || strings.TrimSpace(messageID) == "" {
		return true
	}
	ok, err := m.dedup.Claim(ctx, messageID)
	if err != nil {
		m.logger.Warn("dedup claim failed", zap.String("message_id", messageID), zap.Error(err))
		return true
	}
	return ok
}

func (m *MessagingService) release(ctx context.Context, messageID string) {
	if m.dedup == nil || strings.TrimSpace(messageID) == "" {
		return
	}
	if err := m.dedup.Release(ctx, messageID); err != nil {
		m.logger.Warn("dedup release failed", zap.String("message_id", messageID), zap.Error(err))
	}
}
