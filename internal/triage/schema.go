package triage

import "encoding/json"

// SchemaName identifies the extraction schema in structured-output requests.
const SchemaName = "triage_record"

// Fields lists the record keys with their prompt descriptions, in order.
var Fields = []struct {
	Name        string
	Type        string
	Description string
}{
	{"chief_complaint", "string", "main reason the patient is seeking care"},
	{"symptoms", "string", "description of the symptoms"},
	{"duration_frequency", "string", "how long and how often the symptoms occur"},
	{"intensity", "integer", "self-reported intensity from 0 to 10"},
	{"history", "string", "relevant medical history"},
	{"actions_taken", "string", "what the patient has already done about it"},
}

// Schema is the JSON schema of the extraction payload. Every key is required
// so structured output never omits a field.
var Schema = json.RawMessage(`{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"chief_complaint":{"type":"string"},
		"symptoms":{"type":"string"},
		"duration_frequency":{"type":"string"},
		"intensity":{"type":"integer"},
		"history":{"type":"string"},
		"actions_taken":{"type":"string"}
	},
	"required":["chief_complaint","symptoms","duration_frequency","intensity","history","actions_taken"]
}`)
