package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"triage-agent/internal/domain"
)

const (
	defaultStorageAttempts = 3
	defaultStorageInitial  = 100 * time.Millisecond
	storageMaxInterval     = 2 * time.Second
)

type Store interface {
	TurnReader
	AppendTurn(ctx context.Context, turn domain.ConversationTurn) (string, error)
	WriteTriageRecord(ctx context.Context, rec domain.TriageRecord) (string, error)
	ReadTriageRecord(ctx context.Context, conversationID string) (*domain.TriageRecord, error)
}

// retryingStore retries every store call with exponential backoff. Writes
// carry their id before the first attempt, so a retried put that already
// landed is absorbed by the store.
type retryingStore struct {
	next     Store
	attempts uint
	initial  time.Duration
	logger   *zap.Logger
}

func newRetryingStore(next Store, attempts int, initial time.Duration, logger *zap.Logger) *retryingStore {
	if attempts <= 0 {
		attempts = defaultStorageAttempts
	}
	if initial <= 0 {
		initial = defaultStorageInitial
	}
	return &retryingStore{next: next, attempts: uint(attempts), initial: initial, logger: logger}
}

func (r *retryingStore) AppendTurn(ctx context.Context, turn domain.ConversationTurn) (string, error) {
	return retryStorage(ctx, r, "append_turn", func() (string, error) {
		return r.next.AppendTurn(ctx, turn)
	})
}

func (r *retryingStore) ReadTurns(ctx context.Context, conversationID string, limit int) ([]domain.ConversationTurn, error) {
	return retryStorage(ctx, r, "read_turns", func() ([]domain.ConversationTurn, error) {
		return r.next.ReadTurns(ctx, conversationID, limit)
	})
}

func (r *retryingStore) WriteTriageRecord(ctx context.Context, rec domain.TriageRecord) (string, error) {
	return retryStorage(ctx, r, "write_triage_record", func() (string, error) {
		return r.next.WriteTriageRecord(ctx, rec)
	})
}

func (r *retryingStore) ReadTriageRecord(ctx context.Context, conversationID string) (*domain.TriageRecord, error) {
	return retryStorage(ctx, r, "read_triage_record", func() (*domain.TriageRecord, error) {
		return r.next.ReadTriageRecord(ctx, conversationID)
	})
}

func retryStorage[T any](ctx context.Context, r *retryingStore, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = storageMaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.attempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			trace.SpanFromContext(ctx).AddEvent("storage.retry", trace.WithAttributes(
				attribute.String("storage.op", op),
				attribute.Int("storage.attempt", attempt),
			))
			r.logger.Warn("storage call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
}

// retryable rejects errors that a repeat call cannot change.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrMissingKey) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
