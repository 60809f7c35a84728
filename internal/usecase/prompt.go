package usecase

import (
	"fmt"
	"strings"

	"triage-agent/internal/domain"
	"triage-agent/internal/guard"
	"triage-agent/internal/triage"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// buildDialogueMessages is rebuilt on every call so persona and schema edits
// apply without a restart.
func buildDialogueMessages(phrases []string, history []domain.ConversationTurn, message string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: roleSystem, Content: buildDialogueInstruction(phrases)},
	}
	messages = append(messages, historyToPromptMessages(history)...)
	return append(messages, domain.ChatMessage{Role: roleUser, Content: message})
}

func buildExtractionMessages(history []domain.ConversationTurn, message string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: roleSystem, Content: buildExtractionInstruction()},
	}
	messages = append(messages, historyToPromptMessages(history)...)
	if message = strings.TrimSpace(message); message != "" {
		messages = append(messages, domain.ChatMessage{Role: roleUser, Content: message})
	}
	return messages
}

func buildDialogueInstruction(phrases []string) string {
	return strings.Join([]string{
		"Role:",
		"You are a virtual triage assistant for a clinic. You talk to patients before they are seen by a health professional.",
		"",
		"Mission:",
		"Collect the information below through a short, friendly conversation. Ask one question at a time.",
		"Never diagnose, never suggest medication or treatment, and never claim to replace a medical consultation.",
		"",
		"Emergency Rules:",
		emergencyRules(phrases),
		"",
		"Triage Record Fields:",
		schemaFields(),
		"",
		"Output Rules:",
		outputRules(),
	}, "\n")
}

func buildExtractionInstruction() string {
	return strings.Join([]string{
		"Task:",
		"Read the conversation below and extract the patient's triage record.",
		"",
		"Fields:",
		schemaFields(),
		"",
		"Output Contract:",
		"Respond with ONLY a JSON object containing exactly these keys. No prose, no code fences.",
		noNullRule(),
		"Example: " + emptyRecordTemplate(),
	}, "\n")
}

func emergencyRules(phrases []string) string {
	return strings.Join([]string{
		"If the patient mentions any of the following, stop the interview:",
		"- " + strings.Join(phrases, "\n- "),
		fmt.Sprintf("In that case respond exactly: %q", guard.AdvisoryMessage),
	}, "\n")
}

func schemaFields() string {
	lines := make([]string, 0, len(triage.Fields))
	for _, f := range triage.Fields {
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", f.Name, f.Type, f.Description))
	}
	return strings.Join(lines, "\n")
}

func outputRules() string {
	return strings.Join([]string{
		"1) Reply in plain text addressed to the patient. Do not prefix the reply with a speaker label.",
		"2) Keep replies short and empathetic.",
		"3) " + noNullRule(),
		fmt.Sprintf("4) Once every field is known, respond exactly: %q", guard.ClosingMessage),
	}, "\n")
}

func noNullRule() string {
	return "When a value is unknown use an empty string for text fields and 0 for intensity. Never use null."
}

func emptyRecordTemplate() string {
	parts := make([]string, 0, len(triage.Fields))
	for _, f := range triage.Fields {
		if f.Type == "integer" {
			parts = append(parts, fmt.Sprintf("%q:0", f.Name))
			continue
		}
		parts = append(parts, fmt.Sprintf("%q:\"\"", f.Name))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// historyToPromptMessages maps stored turns onto chat roles. A turn may carry
// user text, agent text or both.
func historyToPromptMessages(history []domain.ConversationTurn) []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, t := range history {
		if user := strings.TrimSpace(t.UserText); user != "" {
			out = append(out, domain.ChatMessage{Role: roleUser, Content: user})
		}
		if agent := strings.TrimSpace(t.AgentText); agent != "" {
			out = append(out, domain.ChatMessage{Role: roleAssistant, Content: agent})
		}
	}
	return out
}
