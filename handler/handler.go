package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"finance-coach/internal/domain"
	"finance-coach/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerOwnerID       = "X-Owner-Id"

	errorNotFound         = "NOT_FOUND"
	errorMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// CoachService is the usecase surface served over HTTP.
type CoachService interface {
	StartSession(ctx context.Context, in usecase.StartInput) (usecase.StartOutput, error)
	SendMessage(ctx context.Context, in usecase.MessageInput) (usecase.MessageOutput, error)
	ListHistory(ctx context.Context, ownerID string, limit int) ([]domain.HistoryItem, error)
	GetConversation(ctx context.Context, sessionID, ownerID string) (domain.Conversation, error)
	StarSession(ctx context.Context, sessionID, ownerID string, starred bool) error
	RenameSession(ctx context.Context, sessionID, ownerID, newLabel string) (string, error)
	DeleteSession(ctx context.Context, sessionID, ownerID string) error
}

// Handler serves the coaching API for API Gateway proxy events and, through
// Router, for plain net/http.
type Handler struct {
	svc      CoachService
	validate *validator.Validate
	logger   *zap.Logger
	routes   []route
}

// ---- wire types ----

type startSessionRequest struct {
	GoalID    string `json:"goalId" validate:"omitempty,max=64"`
	GoalLabel string `json:"goalLabel" validate:"required_without=GoalID,max=120"`
}

type startSessionResponse struct {
	SessionID    string   `json:"sessionId"`
	GoalID       string   `json:"goalId"`
	GoalLabel    string   `json:"goalLabel"`
	Reply        string   `json:"reply"`
	Notice       string   `json:"notice,omitempty"`
	QuickReplies []string `json:"quickReplies"`
	Fallback     bool     `json:"fallback"`
	Warning      string   `json:"warning,omitempty"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	Reply         string   `json:"reply"`
	Notice        string   `json:"notice,omitempty"`
	QuickReplies  []string `json:"quickReplies"`
	Fallback      bool     `json:"fallback"`
	PlanDelivered bool     `json:"planDelivered"`
	Warning       string   `json:"warning,omitempty"`
}

type historyResponse struct {
	Items []domain.HistoryItem `json:"items"`
}

type starRequest struct {
	Starred *bool `json:"starred" validate:"required"`
}

type starResponse struct {
	SessionID string `json:"sessionId"`
	Starred   bool   `json:"starred"`
}

type renameRequest struct {
	NewLabel string `json:"newLabel" validate:"required,max=120"`
}

type renameResponse struct {
	SessionID string `json:"sessionId"`
	GoalLabel string `json:"goalLabel"`
}

type historyQuery struct {
	Limit int `validate:"gte=0"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// ---- routing ----

// request is the transport-neutral view of an incoming call.
type request struct {
	owner string
	id    string
	body  []byte
	query url.Values
}

type response struct {
	status int
	body   any
}

type endpoint func(ctx context.Context, req request) response

type route struct {
	method  string
	pattern string // "{id}" marks the session id segment
	handle  endpoint
}

func NewHandler(svc CoachService, logger *zap.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	h := &Handler{svc: svc, validate: v, logger: logger}
	h.routes = []route{
		{http.MethodPost, "/sessions", h.startSession},
		{http.MethodPost, "/sessions/{id}/messages", h.sendMessage},
		{http.MethodGet, "/history", h.listHistory},
		{http.MethodGet, "/history/{id}", h.getConversation},
		{http.MethodPost, "/history/{id}/star", h.starSession},
		{http.MethodPost, "/history/{id}/rename", h.renameSession},
		{http.MethodDelete, "/history/{id}", h.deleteSession},
	}
	return h, nil
}

// Handle is the Lambda entrypoint for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return h.proxyResponse(event, correlationID, invalid("invalid_body")), nil
		}
		body = decoded
	}

	query := url.Values{}
	for k, v := range event.QueryStringParameters {
		query.Set(k, v)
	}

	res := h.dispatch(ctx, event.HTTPMethod, event.Path, request{
		owner: headerValue(event.Headers, headerOwnerID),
		body:  body,
		query: query,
	})
	return h.proxyResponse(event, correlationID, res), nil
}

func (h *Handler) proxyResponse(event events.APIGatewayProxyRequest, correlationID string, res response) events.APIGatewayProxyResponse {
	h.logRequest(event.HTTPMethod, event.Path, correlationID, res.status)

	headers := map[string]string{headerCorrelationID: correlationID}
	out := events.APIGatewayProxyResponse{StatusCode: res.status, Headers: headers}
	if res.body == nil {
		return out
	}
	raw, err := json.Marshal(res.body)
	if err != nil {
		h.logger.Error("encode response failed", zap.String("correlation_id", correlationID), zap.Error(err))
		out.StatusCode = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	headers["Content-Type"] = "application/json"
	out.Body = string(raw)
	return out
}

// dispatch matches method and path against the route table.
func (h *Handler) dispatch(ctx context.Context, method, path string, req request) response {
	segments := splitPath(path)
	pathMatched := false
	for _, rt := range h.routes {
		id, ok := matchPattern(rt.pattern, segments)
		if !ok {
			continue
		}
		pathMatched = true
		if rt.method != method {
			continue
		}
		req.id = id
		return rt.handle(ctx, req)
	}
	if pathMatched {
		return response{status: http.StatusMethodNotAllowed, body: errorResponse{Error: errorMethodNotAllowed}}
	}
	return response{status: http.StatusNotFound, body: errorResponse{Error: errorNotFound}}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchPattern(pattern string, segments []string) (string, bool) {
	parts := splitPath(pattern)
	if len(parts) != len(segments) {
		return "", false
	}
	var id string
	for i, p := range parts {
		if p == "{id}" {
			if segments[i] == "" {
				return "", false
			}
			id = segments[i]
			continue
		}
		if p != segments[i] {
			return "", false
		}
	}
	return id, true
}

// ---- endpoints ----

func (h *Handler) startSession(ctx context.Context, req request) response {
	var body startSessionRequest
	if res, ok := h.decode(req.body, &body); !ok {
		return res
	}
	out, err := h.svc.StartSession(ctx, usecase.StartInput{GoalID: body.GoalID, GoalLabel: body.GoalLabel, OwnerID: req.owner})
	if err != nil {
		return h.errorResult(err)
	}
	return response{status: http.StatusCreated, body: startSessionResponse{
		SessionID:    out.SessionID,
		GoalID:       out.GoalID,
		GoalLabel:    out.GoalLabel,
		Reply:        out.Reply,
		Notice:       out.Notice,
		QuickReplies: nonNil(out.QuickReplies),
		Fallback:     out.Fallback,
		Warning:      out.PersistenceWarning,
	}}
}

func (h *Handler) sendMessage(ctx context.Context, req request) response {
	var body sendMessageRequest
	if res, ok := h.decode(req.body, &body); !ok {
		return res
	}
	out, err := h.svc.SendMessage(ctx, usecase.MessageInput{SessionID: req.id, OwnerID: req.owner, Text: body.Text})
	if err != nil {
		return h.errorResult(err)
	}
	return response{status: http.StatusOK, body: sendMessageResponse{
		Reply:         out.Reply,
		Notice:        out.Notice,
		QuickReplies:  nonNil(out.QuickReplies),
		Fallback:      out.Fallback,
		PlanDelivered: out.PlanDelivered,
		Warning:       out.PersistenceWarning,
	}}
}

func (h *Handler) listHistory(ctx context.Context, req request) response {
	var q historyQuery
	if raw := strings.TrimSpace(req.query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("invalid_limit")
		}
		q.Limit = n
	}
	if err := h.validate.Struct(q); err != nil {
		return invalid("invalid_limit")
	}
	items, err := h.svc.ListHistory(ctx, req.owner, q.Limit)
	if err != nil {
		return h.errorResult(err)
	}
	if items == nil {
		items = []domain.HistoryItem{}
	}
	return response{status: http.StatusOK, body: historyResponse{Items: items}}
}

func (h *Handler) getConversation(ctx context.Context, req request) response {
	conv, err := h.svc.GetConversation(ctx, req.id, req.owner)
	if err != nil {
		return h.errorResult(err)
	}
	return response{status: http.StatusOK, body: conv}
}

func (h *Handler) starSession(ctx context.Context, req request) response {
	var body starRequest
	if res, ok := h.decode(req.body, &body); !ok {
		return res
	}
	if err := h.svc.StarSession(ctx, req.id, req.owner, *body.Starred); err != nil {
		return h.errorResult(err)
	}
	return response{status: http.StatusOK, body: starResponse{SessionID: req.id, Starred: *body.Starred}}
}

func (h *Handler) renameSession(ctx context.Context, req request) response {
	var body renameRequest
	if res, ok := h.decode(req.body, &body); !ok {
		return res
	}
	label, err := h.svc.RenameSession(ctx, req.id, req.owner, body.NewLabel)
	if err != nil {
		return h.errorResult(err)
	}
	return response{status: http.StatusOK, body: renameResponse{SessionID: req.id, GoalLabel: label}}
}

func (h *Handler) deleteSession(ctx context.Context, req request) response {
	if err := h.svc.DeleteSession(ctx, req.id, req.owner); err != nil {
		return h.errorResult(err)
	}
	return response{status: http.StatusNoContent}
}

// ---- helpers ----

// decode unmarshals and validates a JSON body. ok is false when res holds
// the error response to send.
func (h *Handler) decode(body []byte, dst any) (res response, ok bool) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return invalid("invalid_body"), false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return invalid("invalid_body"), false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return invalid("invalid_" + verrs[0].Field()), false
		}
		return invalid("invalid_body"), false
	}
	return response{}, true
}

func (h *Handler) errorResult(err error) response {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		status := statusFor(ue.Code)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", zap.String("code", string(ue.Code)), zap.String("reason", ue.Reason), zap.Error(ue.Err))
		}
		return response{status: status, body: errorResponse{Error: string(ue.Code), Reason: ue.Reason}}
	}
	h.logger.Error("unexpected error", zap.Error(err))
	return response{status: http.StatusInternalServerError, body: errorResponse{Error: string(usecase.ErrorInternal)}}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func invalid(reason string) response {
	return response{status: http.StatusBadRequest, body: errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: reason}}
}

func (h *Handler) logRequest(method, path, correlationID string, status int) {
	h.logger.Info("request served",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.String("correlation_id", correlationID),
	)
}

// headerValue looks a header up case-insensitively; API Gateway forwards
// whatever casing the client sent.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
