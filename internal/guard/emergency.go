// Package guard holds the keyword safety net that overrides normal dialogue
// when a patient describes emergency symptoms, plus the fixed patient-facing
// copy that must never be paraphrased by the language backend.
package guard

import "strings"

// AdvisoryMessage is returned verbatim whenever an emergency is detected.
const AdvisoryMessage = "Your symptoms may indicate an emergency; " +
	"seek the nearest emergency department or call the local emergency number immediately."

// ClosingMessage is returned verbatim when a triage completes.
const ClosingMessage = "Thank you for sharing all of this information. " +
	"Your triage has been recorded and will be forwarded to our medical team, " +
	"who will continue your care. " +
	"Remember: this is only a pre-assessment and does not replace a consultation with a health professional."

// Marker phrases searched (lowercased) in agent text to recognise a closed
// session. Both are substrings of the messages above.
const (
	AdvisoryMarker   = "your symptoms may indicate an emergency"
	CompletionMarker = "your triage has been recorded"
)

// DefaultPhrases is the ordered emergency phrase list.
var DefaultPhrases = []string{
	"chest pain",
	"shortness of breath",
	"fainting",
	"heavy bleeding",
	"confusion",
	"seizure",
	"unconsciousness",
	"very high blood pressure",
	"very low blood pressure",
	"sudden weakness",
	"difficulty speaking",
	"difficulty walking",
	"sudden vision loss",
}

// Guard detects emergency phrases with a case-insensitive substring match.
// It is safe for concurrent use.
type Guard struct {
	phrases []string
}

// New returns a Guard over phrases. Blank entries are dropped; an empty list
// falls back to DefaultPhrases.
func New(phrases ...string) *Guard {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return New(DefaultPhrases...)
	}
	return &Guard{phrases: out}
}

// Detect reports whether any phrase appears anywhere in text.
func (g *Guard) Detect(text string) bool {
	_, ok := g.Match(text)
	return ok
}

// Match returns the first phrase, in list order, found in text.
func (g *Guard) Match(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, p := range g.phrases {
		if strings.Contains(lowered, p) {
			return p, true
		}
	}
	return "", false
}

// Phrases returns a copy of the configured phrase list.
func (g *Guard) Phrases() []string {
	return append([]string(nil), g.phrases...)
}

// IsAdvisory reports whether agent text carries the emergency advisory.
func IsAdvisory(text string) bool {
	return strings.Contains(strings.ToLower(text), AdvisoryMarker)
}

// IsCompletion reports whether agent text carries the triage completion phrase.
func IsCompletion(text string) bool {
	return strings.Contains(strings.ToLower(text), CompletionMarker)
}
