package triage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"triage-agent/internal/domain"
)

const fullRecord = `{
	"chief_complaint":"headache",
	"symptoms":"throbbing pain behind the eyes",
	"duration_frequency":"three days, constant",
	"intensity":8,
	"history":"migraine",
	"actions_taken":"took paracetamol"
}`

func expectValidationError(t *testing.T, err error, reason string) {
	t.Helper()
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, reason, vErr.Reason)
}

func TestValidate_HappyPath(t *testing.T) {
	rec, err := Validate(fullRecord)
	require.NoError(t, err)
	require.Equal(t, domain.TriageRecord{
		ChiefComplaint:    "headache",
		Symptoms:          "throbbing pain behind the eyes",
		DurationFrequency: "three days, constant",
		Intensity:         8,
		History:           "migraine",
		ActionsTaken:      "took paracetamol",
	}, rec)
}

func TestValidate_StripsCodeFences(t *testing.T) {
	for _, raw := range []string{
		"```json\n" + fullRecord + "\n```",
		"```JSON" + fullRecord + "```",
		"```\n" + fullRecord + "\n```",
		"Here is the record:\n" + fullRecord + "\nLet me know.",
	} {
		rec, err := Validate(raw)
		require.NoError(t, err, raw)
		require.Equal(t, 8, rec.Intensity)
	}
}

func TestValidate_IntensityBoundaries(t *testing.T) {
	cases := []struct {
		raw    string
		want   int
		reason string
	}{
		{`{"intensity":0}`, 0, ""},
		{`{"intensity":10}`, 10, ""},
		{`{"intensity":"7"}`, 7, ""},
		{`{"intensity":null}`, 0, ""},
		{`{"intensity":5.0}`, 5, ""},
		{`{"intensity":-1}`, 0, "invalid_intensity"},
		{`{"intensity":11}`, 0, "invalid_intensity"},
		{`{"intensity":7.5}`, 0, "invalid_intensity"},
		{`{"intensity":"high"}`, 0, "invalid_intensity"},
		{`{"intensity":true}`, 0, "invalid_intensity"},
	}
	for _, tc := range cases {
		rec, err := Validate(tc.raw)
		if tc.reason == "" {
			require.NoError(t, err, tc.raw)
			require.Equal(t, tc.want, rec.Intensity, tc.raw)
			continue
		}
		expectValidationError(t, err, tc.reason)
		require.Equal(t, domain.TriageRecord{}, rec, tc.raw)
	}
}

func TestValidate_NullAndMissingFieldsBecomeEmpty(t *testing.T) {
	rec, err := Validate(`{"chief_complaint":null,"symptoms":"cough","extra":"ignored"}`)
	require.NoError(t, err)
	require.Equal(t, "", rec.ChiefComplaint)
	require.Equal(t, "cough", rec.Symptoms)
	require.Equal(t, "", rec.History)
	require.False(t, rec.IsEmpty())
}

func TestValidate_EmptyObjectIsEmptyRecord(t *testing.T) {
	rec, err := Validate(`{}`)
	require.NoError(t, err)
	require.True(t, rec.IsEmpty())
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		raw    string
		reason string
	}{
		{"", "empty_payload"},
		{"```json\n```", "empty_payload"},
		{"I could not extract anything", "malformed_json"},
		{`["not","an","object"]`, "malformed_json"},
		{`{"chief_complaint":42}`, "malformed_json"},
		{`{"symptoms":"a"}{"symptoms":"b"}`, "multiple_json_values"},
	}
	for _, tc := range cases {
		rec, err := Validate(tc.raw)
		expectValidationError(t, err, tc.reason)
		require.True(t, rec.IsEmpty(), tc.raw)
	}
}

func TestSchema_IsValidJSONAndListsEveryField(t *testing.T) {
	var parsed struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	require.NoError(t, json.Unmarshal(Schema, &parsed))
	require.Len(t, parsed.Required, len(Fields))
	for _, f := range Fields {
		require.Contains(t, parsed.Properties, f.Name)
		require.Contains(t, parsed.Required, f.Name)
	}
}
