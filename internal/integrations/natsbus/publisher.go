// Package natsbus publishes triage hand-off events to NATS JetStream.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"triage-agent/internal/domain"
)

const (
	StreamName             = "TRIAGE"
	SubjectTriageCompleted = "triage.completed"
)

// jetStreamAPI is the subset of jetstream.JetStream used by Publisher.
type jetStreamAPI interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// TriageCompleted is the event body consumed by the clinical team.
type TriageCompleted struct {
	Record      domain.TriageRecord `json:"record"`
	Channel     domain.Channel      `json:"channel"`
	CompletedAt time.Time           `json:"completed_at"`
}

type Publisher struct {
	js jetStreamAPI
	nc *nats.Conn
}

// Connect dials url and ensures the TRIAGE stream exists.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("triage-agent"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsbus: jetstream: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"triage.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	}); err != nil {
		// The stream may be managed elsewhere; publishing still works if it exists.
		logger.Warn("ensure stream failed", zap.String("stream", StreamName), zap.Error(err))
	}
	return &Publisher{js: js, nc: nc}, nil
}

// NewPublisher wraps an existing JetStream handle.
func NewPublisher(js jetStreamAPI) (*Publisher, error) {
	if js == nil {
		return nil, errors.New("natsbus: jetstream must not be nil")
	}
	return &Publisher{js: js}, nil
}

// PublishTriageCompleted publishes the record, de-duplicated by record id.
func (p *Publisher) PublishTriageCompleted(ctx context.Context, rec domain.TriageRecord, channel domain.Channel) error {
	data, err := json.Marshal(TriageCompleted{
		Record:      rec,
		Channel:     channel,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("natsbus: marshal event: %w", err)
	}
	var opts []jetstream.PublishOpt
	if rec.ID != "" {
		opts = append(opts, jetstream.WithMsgID(rec.ID))
	}
	if _, err := p.js.Publish(ctx, SubjectTriageCompleted, data, opts...); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", SubjectTriageCompleted, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
