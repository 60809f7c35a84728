package guard

import (
	"strings"
	"unicode"
)

type Intent string

const (
	IntentGreeting    Intent = "GREETING"
	IntentFarewell    Intent = "FAREWELL"
	IntentAffirmation Intent = "AFFIRMATION"
	IntentNegation    Intent = "NEGATION"
	IntentThanks      Intent = "THANKS"
	IntentHelp        Intent = "HELP"
	IntentTriage      Intent = "TRIAGE"
	IntentUnknown     Intent = "UNKNOWN"
)

// intentKeywords is checked in order; the first intent with a hit wins.
// Single words match whole tokens, multi-word entries match as substrings.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentHelp, []string{"help", "i need help", "assistance"}},
	{IntentTriage, []string{"pain", "symptom", "i feel", "i am feeling", "i have", "hurts", "ache"}},
	{IntentThanks, []string{"thanks", "thank you", "thx", "grateful"}},
	{IntentGreeting, []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"}},
	{IntentFarewell, []string{"bye", "goodbye", "see you", "farewell"}},
	{IntentAffirmation, []string{"yes", "sure", "of course", "correct", "right"}},
	{IntentNegation, []string{"no", "never", "nope", "not really"}},
}

// ClassifyIntent tags a message with a coarse keyword intent. It is used for
// logging and tracing only.
func ClassifyIntent(text string) Intent {
	lowered := strings.ToLower(text)
	tokens := map[string]bool{}
	for _, t := range strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[t] = true
	}
	for _, entry := range intentKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(lowered, kw) {
					return entry.intent
				}
				continue
			}
			if tokens[kw] {
				return entry.intent
			}
		}
	}
	return IntentUnknown
}
