package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"triage-agent/internal/domain"
	"triage-agent/internal/guard"
	"triage-agent/internal/triage"
)

func TestClassifyReply(t *testing.T) {
	cases := []struct {
		reply string
		want  Signal
	}{
		{"How long have you felt this way?", SignalContinue},
		{"Do you have chest pain?", SignalContinue},
		{guard.ClosingMessage, SignalComplete},
		{guard.AdvisoryMessage, SignalEmergency},
		{"your triage has been recorded. " + guard.AdvisoryMessage, SignalEmergency},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classifyReply(tc.reply), tc.reply)
	}
}

func TestStripSpeakerLabel(t *testing.T) {
	cases := map[string]string{
		"Agent: hello":            "hello",
		"  assistant:hello  ":     "hello",
		"AGENTE: olá":             "olá",
		"Triage Agent:  How long": "How long",
		"hello agent: there":      "hello agent: there",
		"":                        "",
	}
	for in, want := range cases {
		require.Equal(t, want, stripSpeakerLabel(in), in)
	}
}

func TestNewBackend_Validates(t *testing.T) {
	_, err := NewBackend(nil, "m", nil)
	require.Error(t, err)
	_, err = NewBackend(&fakeLLM{}, "", nil)
	require.Error(t, err)

	b, err := NewBackend(&fakeLLM{}, "m", nil)
	require.NoError(t, err)
	require.Equal(t, guard.DefaultPhrases, b.guard.Phrases())
}

func TestBackend_DialoguePrompt(t *testing.T) {
	llm := &fakeLLM{replies: []llmReply{{text: "agent: What else?"}}}
	b, err := NewBackend(llm, "gpt-mock", guard.New("purple rash"))
	require.NoError(t, err)

	history := []domain.ConversationTurn{
		{UserText: "I feel dizzy"},
		{AgentText: "Since when?"},
		{UserText: "  ", AgentText: ""},
	}
	res, err := b.Dialogue(context.Background(), history, "since noon")
	require.NoError(t, err)
	require.Equal(t, DialogueResult{Reply: "What else?", Signal: SignalContinue}, res)

	msgs := llm.chatCalls[0]
	require.Len(t, msgs, 4)
	system := msgs[0].Content
	require.Equal(t, "system", msgs[0].Role)
	require.Contains(t, system, "- purple rash")
	require.Contains(t, system, guard.AdvisoryMessage)
	require.Contains(t, system, guard.ClosingMessage)
	require.Contains(t, system, "Never use null")
	for _, f := range triage.Fields {
		require.Contains(t, system, f.Name)
	}
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "since noon"}, msgs[3])
}

func TestBackend_DialogueErrors(t *testing.T) {
	b, err := NewBackend(&fakeLLM{replies: []llmReply{{err: errors.New("timeout")}}}, "m", nil)
	require.NoError(t, err)
	_, err = b.Dialogue(context.Background(), nil, "hi")
	require.ErrorContains(t, err, "timeout")

	b, err = NewBackend(&fakeLLM{replies: []llmReply{{text: "   "}}}, "m", nil)
	require.NoError(t, err)
	_, err = b.Dialogue(context.Background(), nil, "hi")
	require.ErrorIs(t, err, errEmptyReply)
}

func TestBackend_ExtractPrompt(t *testing.T) {
	llm := &fakeLLM{jsonReplies: []llmReply{{text: `{"intensity":2}`}}}
	b, err := NewBackend(llm, "gpt-mock", nil)
	require.NoError(t, err)

	raw, err := b.Extract(context.Background(), []domain.ConversationTurn{{UserText: "my foot"}, {AgentText: "How bad?"}}, "2 out of 10")
	require.NoError(t, err)
	require.Equal(t, `{"intensity":2}`, raw)

	require.Equal(t, []string{triage.SchemaName}, llm.schemaNames)
	msgs := llm.jsonCalls[0]
	require.Len(t, msgs, 4)
	require.Contains(t, msgs[0].Content, "ONLY a JSON object")
	require.Contains(t, msgs[0].Content, `"intensity":0`)
	require.Contains(t, msgs[0].Content, `"chief_complaint":""`)
	require.Equal(t, "2 out of 10", msgs[3].Content)
}
