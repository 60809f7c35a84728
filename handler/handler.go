package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"triage-agent/internal/domain"
	"triage-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"

	invalidInputReply = "Sorry, I could not understand that request. Please check your message and try again."
	notFoundReply     = "No triage record was found for this conversation."
)

type TriageUseCase interface {
	Handle(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
	TriageRecord(ctx context.Context, conversationID string) (domain.TriageRecord, error)
}

type InboundUseCase interface {
	HandleInbound(ctx context.Context, in usecase.InboundMessage) (usecase.InboundStatus, error)
}

type Handler struct {
	triage   TriageUseCase
	inbound  InboundUseCase
	webhook  WebhookConfig
	validate *validator.Validate
	logger   *zap.Logger
}

// WebhookConfig enables the messaging webhook routes. An empty AppSecret
// disables signature checks.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
}

type Option func(*Handler)

func WithWebhook(inbound InboundUseCase, cfg WebhookConfig) Option {
	return func(h *Handler) {
		h.inbound = inbound
		h.webhook = cfg
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

type chatRequest struct {
	ConversationID string `json:"conversationId" validate:"omitempty,max=128"`
	UserID         string `json:"userId" validate:"omitempty,max=128"`
	Channel        string `json:"channel" validate:"omitempty,oneof=web messaging"`
	Message        string `json:"message" validate:"required"`
}

type chatResponse struct {
	ConversationID string `json:"conversationId,omitempty"`
	Response       string `json:"response"`
	Timestamp      string `json:"timestamp"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Response string `json:"response"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func NewHandler(triage TriageUseCase, opts ...Option) (*Handler, error) {
	if triage == nil {
		return nil, errors.New("handler: triage use case must not be nil")
	}
	h := &Handler{
		triage:   triage,
		validate: validator.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("method", req.HTTPMethod),
		zap.String("path", req.Path),
	)

	body, err := requestBody(req)
	if err != nil {
		return h.errorResponse(correlationID, usecase.ErrorInvalidInput), nil
	}

	path := strings.TrimRight(req.Path, "/")
	var resp events.APIGatewayProxyResponse
	switch {
	case req.HTTPMethod == http.MethodPost && path == "/chat":
		resp = h.chat(ctx, log, correlationID, body)
	case req.HTTPMethod == http.MethodGet && path == "/health":
		resp = jsonResponse(http.StatusOK, correlationID, healthResponse{Status: "ok", Timestamp: formatTime(time.Now())})
	case req.HTTPMethod == http.MethodGet && strings.HasPrefix(path, "/triage/"):
		resp = h.triageRecord(ctx, log, correlationID, conversationIDParam(req, path))
	case path == "/webhook/whatsapp" && h.inbound != nil && req.HTTPMethod == http.MethodGet:
		resp = h.verifyWebhook(correlationID, req.QueryStringParameters)
	case path == "/webhook/whatsapp" && h.inbound != nil && req.HTTPMethod == http.MethodPost:
		resp = h.receiveWebhook(ctx, log, correlationID, req.Headers, body)
	default:
		resp = h.errorResponse(correlationID, usecase.ErrorNotFound)
	}

	log.Info("request handled", zap.Int("status", resp.StatusCode))
	return resp, nil
}

func (h *Handler) chat(ctx context.Context, log *zap.Logger, correlationID string, body []byte) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		log.Warn("invalid chat body", zap.Error(err))
		return h.errorResponse(correlationID, usecase.ErrorInvalidInput)
	}
	if err := h.validate.Struct(in); err != nil {
		log.Warn("chat request failed validation", zap.Error(err))
		return h.errorResponse(correlationID, usecase.ErrorInvalidInput)
	}

	out, err := h.triage.Handle(ctx, usecase.TurnInput{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Channel:        domain.Channel(in.Channel),
		Message:        in.Message,
	})
	if err != nil {
		return h.useCaseError(log, correlationID, err)
	}
	return jsonResponse(http.StatusOK, correlationID, chatResponse{
		ConversationID: out.ConversationID,
		Response:       out.Response,
		Timestamp:      formatTime(out.Timestamp),
	})
}

func (h *Handler) triageRecord(ctx context.Context, log *zap.Logger, correlationID, conversationID string) events.APIGatewayProxyResponse {
	rec, err := h.triage.TriageRecord(ctx, conversationID)
	if err != nil {
		return h.useCaseError(log, correlationID, err)
	}
	return jsonResponse(http.StatusOK, correlationID, rec)
}

func (h *Handler) useCaseError(log *zap.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		log = log.With(zap.String("reason", ucErr.Reason))
	}
	if statusFor(code) >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("code", string(code)), zap.Error(err))
	} else {
		log.Info("request rejected", zap.String("code", string(code)), zap.Error(err))
	}
	return h.errorResponse(correlationID, code)
}

func (h *Handler) errorResponse(correlationID string, code usecase.ErrorCode) events.APIGatewayProxyResponse {
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		code = usecase.ErrorInternal
	}
	return jsonResponse(status, correlationID, errorResponse{Error: string(code), Response: replyFor(code)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// replyFor keeps error bodies patient-readable; codes never reach the chat UI.
func replyFor(code usecase.ErrorCode) string {
	switch code {
	case usecase.ErrorInvalidInput:
		return invalidInputReply
	case usecase.ErrorNotFound:
		return notFoundReply
	default:
		return usecase.ApologyMessage
	}
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

// header looks a key up case-insensitively; API Gateway preserves client casing.
func header(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func conversationIDParam(req events.APIGatewayProxyRequest, path string) string {
	if id := req.PathParameters["conversationId"]; id != "" {
		return id
	}
	return strings.TrimPrefix(path, "/triage/")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
