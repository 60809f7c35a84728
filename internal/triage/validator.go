// Package triage validates the raw text returned by the extraction call and
// maps it onto a domain.TriageRecord.
package triage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"triage-agent/internal/domain"
)

// ValidationError reports why an extraction could not be turned into a record.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "triage: invalid record: " + e.Reason
	}
	return fmt.Sprintf("triage: invalid record: %s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// rawRecord accepts nulls and loosely typed intensity; everything else is
// normalised in Validate.
type rawRecord struct {
	ChiefComplaint    *string         `json:"chief_complaint"`
	Symptoms          *string         `json:"symptoms"`
	DurationFrequency *string         `json:"duration_frequency"`
	Intensity         json.RawMessage `json:"intensity"`
	History           *string         `json:"history"`
	ActionsTaken      *string         `json:"actions_taken"`
}

// Validate strips code fences from raw, decodes a single JSON object and
// enforces the record rules. On any failure it returns the zero record
// together with a *ValidationError; callers must not treat that as fatal.
func Validate(raw string) (domain.TriageRecord, error) {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return domain.TriageRecord{}, &ValidationError{Reason: "empty_payload"}
	}

	var in rawRecord
	dec := json.NewDecoder(bytes.NewBufferString(cleaned))
	if err := dec.Decode(&in); err != nil {
		return domain.TriageRecord{}, &ValidationError{Reason: "malformed_json", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.TriageRecord{}, &ValidationError{Reason: "multiple_json_values"}
		}
		return domain.TriageRecord{}, &ValidationError{Reason: "trailing_data", Err: err}
	}

	intensity, err := parseIntensity(in.Intensity)
	if err != nil {
		return domain.TriageRecord{}, &ValidationError{Reason: "invalid_intensity", Err: err}
	}

	return domain.TriageRecord{
		ChiefComplaint:    text(in.ChiefComplaint),
		Symptoms:          text(in.Symptoms),
		DurationFrequency: text(in.DurationFrequency),
		Intensity:         intensity,
		History:           text(in.History),
		ActionsTaken:      text(in.ActionsTaken),
	}, nil
}

// StripFences removes markdown code-fence markers and any prose around the
// outermost JSON object.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(strings.ToLower(s), "```json"); idx >= 0 {
		s = s[:idx] + s[idx+len("```json"):]
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func text(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func parseIntensity(raw json.RawMessage) (int, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, nil
	}

	var n float64
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("intensity %q is not a number", s)
		}
		n = parsed
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("intensity is not a number: %w", err)
	}

	if n != math.Trunc(n) {
		return 0, fmt.Errorf("intensity %v is not an integer", n)
	}
	if n < domain.MinIntensity || n > domain.MaxIntensity {
		return 0, fmt.Errorf("intensity %v outside [%d,%d]", n, domain.MinIntensity, domain.MaxIntensity)
	}
	return int(n), nil
}
