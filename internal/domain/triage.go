package domain

import "time"

const (
	MinIntensity = 0
	MaxIntensity = 10
)

// TriageRecord is the structured intake summary extracted at the end of a
// dialogue. Text fields are never null; absent values are empty strings.
type TriageRecord struct {
	ID                string    `json:"id,omitempty"`
	ConversationID    string    `json:"conversation_id,omitempty"`
	ChiefComplaint    string    `json:"chief_complaint"`
	Symptoms          string    `json:"symptoms"`
	DurationFrequency string    `json:"duration_frequency"`
	Intensity         int       `json:"intensity"`
	History           string    `json:"history"`
	ActionsTaken      string    `json:"actions_taken"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

// IsEmpty reports whether the record carries no extracted information.
func (r TriageRecord) IsEmpty() bool {
	return r.ChiefComplaint == "" &&
		r.Symptoms == "" &&
		r.DurationFrequency == "" &&
		r.Intensity == 0 &&
		r.History == "" &&
		r.ActionsTaken == ""
}
