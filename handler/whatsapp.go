package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"triage-agent/internal/hashing"
	"triage-agent/internal/integrations/whatsapp"
	"triage-agent/internal/usecase"
)

const signatureHeader = "X-Hub-Signature-256"

type webhookStatus struct {
	Status string `json:"status"`
}

// verifyWebhook answers Meta's subscription handshake with the raw challenge.
func (h *Handler) verifyWebhook(correlationID string, query map[string]string) events.APIGatewayProxyResponse {
	token := query["hub.verify_token"]
	if query["hub.mode"] != "subscribe" || h.webhook.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.webhook.VerifyToken)) != 1 {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Headers:    map[string]string{correlationHeader: correlationID},
			Body:       "forbidden",
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "text/plain",
			correlationHeader: correlationID,
		},
		Body: query["hub.challenge"],
	}
}

func (h *Handler) receiveWebhook(ctx context.Context, log *zap.Logger, correlationID string, headers map[string]string, body []byte) events.APIGatewayProxyResponse {
	if h.webhook.AppSecret != "" && !hashing.VerifySignature(h.webhook.AppSecret, body, header(headers, signatureHeader)) {
		log.Warn("webhook signature mismatch")
		return jsonResponse(http.StatusUnauthorized, correlationID, errorResponse{Error: "UNAUTHORIZED", Response: invalidInputReply})
	}

	msg, ok, err := whatsapp.ParseWebhook(body)
	if err != nil {
		log.Warn("invalid webhook body", zap.Error(err))
		return h.errorResponse(correlationID, usecase.ErrorInvalidInput)
	}
	if !ok {
		return jsonResponse(http.StatusOK, correlationID, webhookStatus{Status: string(usecase.StatusIgnored)})
	}

	status, err := h.inbound.HandleInbound(ctx, usecase.InboundMessage{
		MessageID: msg.ID,
		From:      msg.From,
		Text:      msg.Body(),
	})
	if err != nil {
		return h.useCaseError(log, correlationID, err)
	}
	return jsonResponse(http.StatusOK, correlationID, webhookStatus{Status: string(status)})
}
