package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const textNotification = `{
	"object":"whatsapp_business_account",
	"entry":[{"id":"WABA","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"messages":[{"id":"wamid.IN","from":"5511999990000","timestamp":"1700000000","type":"text","text":{"body":"I have a mild headache"}}]
	}}]}]
}`

const statusNotification = `{
	"object":"whatsapp_business_account",
	"entry":[{"id":"WABA","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"statuses":[{"id":"wamid.OUT","status":"delivered"}]
	}}]}]
}`

func TestParseWebhook_TextMessage(t *testing.T) {
	msg, ok, err := ParseWebhook([]byte(textNotification))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "wamid.IN", msg.ID)
	require.Equal(t, "5511999990000", msg.From)
	require.Equal(t, "I have a mild headache", msg.Body())
}

func TestParseWebhook_NoMessage(t *testing.T) {
	for _, body := range []string{statusNotification, `{"entry":[]}`, `{"entry":[{"changes":[]}]}`} {
		_, ok, err := ParseWebhook([]byte(body))
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestParseWebhook_NonTextBodyIsEmpty(t *testing.T) {
	msg, ok, err := ParseWebhook([]byte(`{"entry":[{"changes":[{"value":{"messages":[{"id":"m","from":"55","type":"image"}]}}]}]}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "", msg.Body())
}

func TestParseWebhook_Errors(t *testing.T) {
	_, _, err := ParseWebhook([]byte(`not-json`))
	require.ErrorContains(t, err, "decode webhook")

	_, _, err = ParseWebhook([]byte(`{"entry":[{"changes":[{"value":{"messages":[{"id":"m","from":" "}]}}]}]}`))
	require.ErrorContains(t, err, "no sender")
}
