package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"triage-agent/internal/domain"
	"triage-agent/internal/guard"
	"triage-agent/internal/hashing"
)

type fakeTurns struct {
	out   TurnOutput
	err   error
	calls []TurnInput
}

func (f *fakeTurns) Handle(_ context.Context, in TurnInput) (TurnOutput, error) {
	f.calls = append(f.calls, in)
	return f.out, f.err
}

type delivery struct {
	recipient string
	text      string
}

type fakeDeliverer struct {
	sent []delivery
	err  error
}

func (f *fakeDeliverer) Deliver(_ context.Context, recipient, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, delivery{recipient, text})
	return "wamid.OUT", nil
}

type fakeDeduper struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
	claimErr error
}

func (f *fakeDeduper) Claim(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeDeduper) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, id)
	f.released = append(f.released, id)
	return nil
}

func newMessaging(t *testing.T, turns TurnHandler, deliver Deliverer, dedup Deduper) *MessagingService {
	t.Helper()
	h, err := hashing.New("pepper")
	require.NoError(t, err)
	m, err := NewMessagingService(turns, deliver, h, dedup, nil)
	require.NoError(t, err)
	return m
}

func TestNewMessagingService_Validates(t *testing.T) {
	h, err := hashing.New("pepper")
	require.NoError(t, err)
	_, err = NewMessagingService(nil, &fakeDeliverer{}, h, nil, nil)
	require.Error(t, err)
	_, err = NewMessagingService(&fakeTurns{}, nil, h, nil, nil)
	require.Error(t, err)
	_, err = NewMessagingService(&fakeTurns{}, &fakeDeliverer{}, nil, nil, nil)
	require.Error(t, err)
}

func TestHandleInbound_Statuses(t *testing.T) {
	cases := []struct {
		outcome Outcome
		want    InboundStatus
	}{
		{OutcomeContinue, StatusOK},
		{OutcomeEmergency, StatusEmergencyHandled},
		{OutcomeComplete, StatusCompleted},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			turns := &fakeTurns{out: TurnOutput{Response: "reply", Outcome: tc.outcome}}
			deliver := &fakeDeliverer{}
			m := newMessaging(t, turns, deliver, &fakeDeduper{})

			status, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "hello"})
			require.NoError(t, err)
			require.Equal(t, tc.want, status)
			require.Equal(t, []delivery{{"5511999990000", "reply"}}, deliver.sent)
		})
	}
}

func TestHandleInbound_HashesSender(t *testing.T) {
	turns := &fakeTurns{out: TurnOutput{Response: "How long?", Outcome: OutcomeContinue}}
	m := newMessaging(t, turns, &fakeDeliverer{}, nil)

	_, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "my head hurts"})
	require.NoError(t, err)

	h, _ := hashing.New("pepper")
	require.Len(t, turns.calls, 1)
	in := turns.calls[0]
	require.Equal(t, h.Hash("5511999990000"), in.ConversationID)
	require.Equal(t, in.ConversationID, in.UserID)
	require.NotContains(t, in.ConversationID, "5511999990000")
	require.Equal(t, domain.ChannelMessaging, in.Channel)
	require.Equal(t, "my head hurts", in.Message)
}

func TestHandleInbound_Duplicate(t *testing.T) {
	turns := &fakeTurns{out: TurnOutput{Response: "ok", Outcome: OutcomeContinue}}
	deliver := &fakeDeliverer{}
	m := newMessaging(t, turns, deliver, &fakeDeduper{})

	msg := InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "hello"}
	_, err := m.HandleInbound(context.Background(), msg)
	require.NoError(t, err)
	status, err := m.HandleInbound(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, StatusDuplicate, status)
	require.Len(t, turns.calls, 1)
	require.Len(t, deliver.sent, 1)
}

func TestHandleInbound_DedupOutageLetsMessageThrough(t *testing.T) {
	turns := &fakeTurns{out: TurnOutput{Response: "ok", Outcome: OutcomeContinue}}
	m := newMessaging(t, turns, &fakeDeliverer{}, &fakeDeduper{claimErr: errors.New("redis: connection refused")})

	status, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
}

func TestHandleInbound_TurnFailureReleasesClaim(t *testing.T) {
	turns := &fakeTurns{err: newError(ErrorInternal, "storage_append_error", errors.New("boom"))}
	dedup := &fakeDeduper{}
	deliver := &fakeDeliverer{}
	m := newMessaging(t, turns, deliver, dedup)

	_, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "hello"})
	requireUsecaseError(t, err, ErrorInternal, "storage_append_error")
	require.Equal(t, []string{"wamid.1"}, dedup.released)
	require.Empty(t, deliver.sent)

	turns.err = nil
	turns.out = TurnOutput{Response: "ok", Outcome: OutcomeContinue}
	status, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
}

func TestHandleInbound_DeliveryFailure(t *testing.T) {
	turns := &fakeTurns{out: TurnOutput{Response: "ok", Outcome: OutcomeContinue}}
	dedup := &fakeDeduper{}
	m := newMessaging(t, turns, &fakeDeliverer{err: errors.New("whatsapp: unexpected status 401")}, dedup)

	_, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000", Text: "hello"})
	requireUsecaseError(t, err, ErrorInternal, "delivery_error")
	require.Empty(t, dedup.released)
}

func TestHandleInbound_NonTextAndMissingSender(t *testing.T) {
	turns := &fakeTurns{}
	deliver := &fakeDeliverer{}
	m := newMessaging(t, turns, deliver, nil)

	status, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.1", From: "5511999990000"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, []delivery{{"5511999990000", UnsupportedMessageReply}}, deliver.sent)
	require.Empty(t, turns.calls)

	status, err = m.HandleInbound(context.Background(), InboundMessage{MessageID: "wamid.2", Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, StatusIgnored, status)
}

func TestHandleInbound_SecondSessionFromSameSenderKeepsContext(t *testing.T) {
	llm := &fakeLLM{
		replies: []llmReply{
			{text: guard.ClosingMessage},
			{text: "Since when?"},
			{text: "How intense is it from 0 to 10?"},
			{text: "Anything else you took for it?"},
		},
		jsonReplies: []llmReply{{text: validExtraction}},
	}
	store := &fakeStore{}
	triageSvc := newTestService(t, llm, store, testConfig())
	deliverer := &fakeDeliverer{}
	m := newMessaging(t, triageSvc, deliverer, &fakeDeduper{})

	inbound := []struct {
		id, text string
		want     InboundStatus
	}{
		{"wamid.1", "I have a headache since friday, an 8, migraine history, took rest", StatusCompleted},
		{"wamid.2", "hi again, my knee hurts", StatusOK},
		{"wamid.3", "since monday", StatusOK},
		{"wamid.4", "about a 6", StatusOK},
	}
	for _, in := range inbound {
		status, err := m.HandleInbound(context.Background(), InboundMessage{MessageID: in.id, From: "5511999990000", Text: in.text})
		require.NoError(t, err)
		require.Equal(t, in.want, status, in.text)
	}

	require.Len(t, store.records, 1)
	require.Len(t, llm.chatCalls, 4)
	require.Equal(t, []domain.ChatMessage{
		{Role: "user", Content: "hi again, my knee hurts"},
		{Role: "assistant", Content: "Since when?"},
		{Role: "user", Content: "since monday"},
		{Role: "assistant", Content: "How intense is it from 0 to 10?"},
		{Role: "user", Content: "about a 6"},
	}, llm.chatCalls[3][1:])
}
