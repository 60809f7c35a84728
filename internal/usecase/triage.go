package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"triage-agent/internal/domain"
	"triage-agent/internal/guard"
	"triage-agent/internal/triage"
)

const (
	defaultMaxMessage = 2000

	// ApologyMessage is returned when the language backend fails mid-turn.
	ApologyMessage = "Sorry, I could not process your message right now. Could you please rephrase it?"
	// SummaryRequestMessage keeps a session open when extraction came back empty.
	SummaryRequestMessage = "Before I record your triage, could you briefly summarise your main complaint, " +
		"how long it has been going on and how intense it is from 0 to 10?"
)

var tracer = otel.Tracer("triage-agent/usecase")

// Outcome tells the caller how a turn ended.
type Outcome string

const (
	OutcomeContinue  Outcome = "continue"
	OutcomeComplete  Outcome = "complete"
	OutcomeEmergency Outcome = "emergency"
)

// ExtractionFailurePolicy decides what happens when the completion step
// yields no usable record.
type ExtractionFailurePolicy string

const (
	ExtractionClose    ExtractionFailurePolicy = "close"
	ExtractionRetry    ExtractionFailurePolicy = "retry"
	ExtractionContinue ExtractionFailurePolicy = "continue"
)

func ParseExtractionFailurePolicy(s string) (ExtractionFailurePolicy, error) {
	switch p := ExtractionFailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ExtractionClose, nil
	case ExtractionClose, ExtractionRetry, ExtractionContinue:
		return p, nil
	default:
		return "", fmt.Errorf("usecase: unknown extraction failure policy %q", s)
	}
}

type EventPublisher interface {
	PublishTriageCompleted(ctx context.Context, rec domain.TriageRecord, channel domain.Channel) error
}

type Config struct {
	Model                string
	HistoryLimit         int
	Truncation           TruncationPolicy
	ExtractionFailure    ExtractionFailurePolicy
	MaxMessageLength     int
	StorageRetryAttempts int
	StorageRetryInitial  time.Duration
}

type Option func(*TriageService)

func WithGuard(g *guard.Guard) Option {
	return func(s *TriageService) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithPublisher enables the hand-off event after a record is stored.
func WithPublisher(p EventPublisher) Option {
	return func(s *TriageService) {
		s.publisher = p
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *TriageService) {
		if l != nil {
			s.logger = l
		}
	}
}

// TriageService runs one patient message through the dialogue state machine.
// It holds no per-conversation state; everything is reloaded from the store
// on each call. Concurrent calls on the same conversation id are not
// serialised.
type TriageService struct {
	store             Store
	backend           *Backend
	history           *HistorySelector
	guard             *guard.Guard
	publisher         EventPublisher
	logger            *zap.Logger
	extractionFailure ExtractionFailurePolicy
	maxMessageLen     int
}

type TurnInput struct {
	ConversationID string
	UserID         string
	Channel        domain.Channel
	Message        string
}

// TurnOutput carries an empty ConversationID when the session closed.
type TurnOutput struct {
	ConversationID string
	Response       string
	Outcome        Outcome
	Timestamp      time.Time
}

func NewTriageService(llm LLMClient, store Store, cfg Config, opts ...Option) (*TriageService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	s := &TriageService{
		guard:         guard.New(),
		logger:        zap.NewNop(),
		maxMessageLen: cfg.MaxMessageLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxMessageLen <= 0 {
		s.maxMessageLen = defaultMaxMessage
	}

	policy := cfg.ExtractionFailure
	if policy == "" {
		policy = ExtractionClose
	}
	if _, err := ParseExtractionFailurePolicy(string(policy)); err != nil {
		return nil, err
	}
	s.extractionFailure = policy

	backend, err := NewBackend(llm, cfg.Model, s.guard)
	if err != nil {
		return nil, err
	}
	s.backend = backend

	s.store = newRetryingStore(store, cfg.StorageRetryAttempts, cfg.StorageRetryInitial, s.logger)
	history, err := NewHistorySelector(s.store, cfg.HistoryLimit, cfg.Truncation)
	if err != nil {
		return nil, err
	}
	s.history = history
	return s, nil
}

type step string

const (
	stepAwaitInput step = "AWAIT_USER_INPUT"
	stepEmergency  step = "EMERGENCY_SHORT_CIRCUIT"
	stepDialogue   step = "DIALOGUE_TURN"
	stepExtract    step = "EXTRACT_TURN"
	stepClose      step = "PERSIST_AND_CLOSE"
	stepDone       step = ""
)

// turnState is built once per call and passed by value between steps.
type turnState struct {
	next           step
	conversationID string
	userID         string
	channel        domain.Channel
	message        string
	intent         guard.Intent
	userTurnID     string
	history        []domain.ConversationTurn
	record         domain.TriageRecord
	extractions    int
	outcome        Outcome
	response       string
}

func (s *TriageService) Handle(ctx context.Context, in TurnInput) (TurnOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(message) > s.maxMessageLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	channel := in.Channel
	if channel == "" {
		channel = domain.ChannelWeb
	}
	if !channel.Valid() {
		return TurnOutput{}, newError(ErrorInvalidInput, "invalid_channel", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}
	st := turnState{
		next:           stepAwaitInput,
		conversationID: convID,
		userID:         strings.TrimSpace(in.UserID),
		channel:        channel,
		message:        message,
		intent:         guard.ClassifyIntent(message),
	}

	ctx, span := tracer.Start(ctx, "triage.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", convID),
		attribute.String("conversation.channel", string(channel)),
		attribute.String("message.intent", string(st.intent)),
	)
	log := s.logger.With(
		zap.String("conversation_id", convID),
		zap.String("channel", string(channel)),
		zap.String("intent", string(st.intent)),
		zap.Int("message_length", len(message)),
	)

	for st.next != stepDone {
		var err error
		current := st.next
		st, err = s.runStep(ctx, st)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(current))
			log.Error("turn failed", zap.String("step", string(current)), zap.Error(err))
			return TurnOutput{}, err
		}
	}

	span.SetAttributes(attribute.String("turn.outcome", string(st.outcome)))
	log.Info("turn handled", zap.String("outcome", string(st.outcome)))

	out := TurnOutput{Response: st.response, Outcome: st.outcome, Timestamp: now()}
	if st.outcome == OutcomeContinue {
		out.ConversationID = st.conversationID
	}
	return out, nil
}

func (s *TriageService) runStep(ctx context.Context, st turnState) (turnState, error) {
	ctx, span := tracer.Start(ctx, string(st.next))
	defer span.End()

	switch st.next {
	case stepAwaitInput:
		return s.awaitInput(ctx, st)
	case stepEmergency:
		return s.emergency(ctx, st)
	case stepDialogue:
		return s.dialogue(ctx, st)
	case stepExtract:
		return s.extract(ctx, st)
	case stepClose:
		return s.persistAndClose(ctx, st)
	default:
		return st, newError(ErrorInternal, "unknown_step", fmt.Errorf("step %q", st.next))
	}
}

// awaitInput stores the inbound message before anything can fail.
func (s *TriageService) awaitInput(ctx context.Context, st turnState) (turnState, error) {
	id, err := s.appendTurn(ctx, st, st.message, "")
	if err != nil {
		return st, err
	}
	st.userTurnID = id

	if phrase, ok := s.guard.Match(st.message); ok {
		s.logger.Warn("emergency phrase detected",
			zap.String("conversation_id", st.conversationID),
			zap.String("phrase", phrase),
		)
		st.next = stepEmergency
		return st, nil
	}
	st.next = stepDialogue
	return st, nil
}

func (s *TriageService) emergency(ctx context.Context, st turnState) (turnState, error) {
	return s.finish(ctx, st, guard.AdvisoryMessage, OutcomeEmergency)
}

func (s *TriageService) dialogue(ctx context.Context, st turnState) (turnState, error) {
	history, err := s.history.Relevant(ctx, st.conversationID, st.channel, st.userTurnID)
	if err != nil {
		return st, newError(ErrorInternal, "storage_history_error", err)
	}
	st.history = history

	res, err := s.backend.Dialogue(ctx, st.history, st.message)
	if err != nil {
		return s.apologize(ctx, st, "dialogue", err)
	}

	switch res.Signal {
	case SignalEmergency:
		st.next = stepEmergency
		return st, nil
	case SignalComplete:
		st.next = stepExtract
		return st, nil
	default:
		return s.finish(ctx, st, res.Reply, OutcomeContinue)
	}
}

func (s *TriageService) extract(ctx context.Context, st turnState) (turnState, error) {
	raw, err := s.backend.Extract(ctx, st.history, st.message)
	if err != nil {
		return s.apologize(ctx, st, "extraction", err)
	}
	st.extractions++

	rec, err := triage.Validate(raw)
	if err == nil && !rec.IsEmpty() {
		st.record = rec
		st.next = stepClose
		return st, nil
	}

	var vErr *triage.ValidationError
	reason := "empty_record"
	if errors.As(err, &vErr) {
		reason = vErr.Reason
	}
	s.logger.Warn("extraction yielded no usable record",
		zap.String("conversation_id", st.conversationID),
		zap.String("reason", reason),
		zap.Int("attempt", st.extractions),
		zap.String("policy", string(s.extractionFailure)),
	)

	switch s.extractionFailure {
	case ExtractionRetry:
		if st.extractions < 2 {
			st.next = stepExtract
			return st, nil
		}
	case ExtractionContinue:
		return s.finish(ctx, st, SummaryRequestMessage, OutcomeContinue)
	}
	st.next = stepClose
	return st, nil
}

func (s *TriageService) persistAndClose(ctx context.Context, st turnState) (turnState, error) {
	if !st.record.IsEmpty() {
		rec := st.record
		rec.ID = newRecordID()
		rec.ConversationID = st.conversationID
		rec.CreatedAt = now()
		if _, err := s.store.WriteTriageRecord(ctx, rec); err != nil {
			return st, newError(ErrorInternal, "storage_triage_write_error", err)
		}
		st.record = rec
		s.publish(ctx, st)
	}
	return s.finish(ctx, st, guard.ClosingMessage, OutcomeComplete)
}

func (s *TriageService) publish(ctx context.Context, st turnState) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTriageCompleted(ctx, st.record, st.channel); err != nil {
		s.logger.Error("publish triage completed failed",
			zap.String("conversation_id", st.conversationID),
			zap.String("record_id", st.record.ID),
			zap.Error(err),
		)
	}
}

// apologize keeps the session open after a backend failure.
func (s *TriageService) apologize(ctx context.Context, st turnState, phase string, cause error) (turnState, error) {
	s.logger.Error("language backend failed",
		zap.String("conversation_id", st.conversationID),
		zap.String("phase", phase),
		zap.Error(cause),
	)
	return s.finish(ctx, st, ApologyMessage, OutcomeContinue)
}

func (s *TriageService) finish(ctx context.Context, st turnState, response string, outcome Outcome) (turnState, error) {
	if _, err := s.appendTurn(ctx, st, "", response); err != nil {
		return st, err
	}
	st.response = response
	st.outcome = outcome
	st.next = stepDone
	return st, nil
}

func (s *TriageService) appendTurn(ctx context.Context, st turnState, userText, agentText string) (string, error) {
	turn := domain.ConversationTurn{
		ID:             newTurnID(),
		ConversationID: st.conversationID,
		UserID:         st.userID,
		Channel:        st.channel,
		UserText:       userText,
		AgentText:      agentText,
		CreatedAt:      now(),
	}
	id, err := s.store.AppendTurn(ctx, turn)
	if err != nil {
		return "", newError(ErrorInternal, "storage_append_error", err)
	}
	return id, nil
}

// TriageRecord returns the most recent record stored for a conversation.
func (s *TriageService) TriageRecord(ctx context.Context, conversationID string) (domain.TriageRecord, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.TriageRecord{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	rec, err := s.store.ReadTriageRecord(ctx, conversationID)
	if err != nil {
		return domain.TriageRecord{}, newError(ErrorInternal, "storage_triage_read_error", err)
	}
	if rec == nil {
		return domain.TriageRecord{}, newError(ErrorNotFound, "triage_record_not_found", nil)
	}
	return *rec, nil
}

var newUUID = func() string {
	return uuid.NewString()
}

var newTurnID = func() string {
	return ulid.Make().String()
}

var newRecordID = func() string {
	return ulid.Make().String()
}

var now = func() time.Time {
	return time.Now().UTC()
}
