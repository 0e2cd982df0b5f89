package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/memories/internal/auth"
	"github.com/jun/memories/internal/memories"
	"github.com/jun/memories/internal/store"
)

// Header returns the first request header matching name case-insensitively.
// API Gateway passes header names through as the client sent them.
func Header(req events.APIGatewayProxyRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"failed to encode response"}`}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// ErrorResponse builds a JSON {"error": msg} response.
func ErrorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]string{"error": msg})
}

// writeError maps a service error onto a response. Internal details are
// logged, never returned.
func writeError(ctx context.Context, logger *slog.Logger, op string, err error) events.APIGatewayProxyResponse {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		logger.WarnContext(ctx, "unauthorized request", "op", op, "error", err)
		return ErrorResponse(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, memories.ErrInvalidRequest):
		return ErrorResponse(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInvalidCursor):
		return ErrorResponse(http.StatusBadRequest, "invalid cursor")
	case errors.Is(err, store.ErrNotFound):
		return ErrorResponse(http.StatusNotFound, "memory not found")
	case errors.Is(err, store.ErrConditionFailed):
		logger.WarnContext(ctx, "conflicting write", "op", op, "error", err)
		return ErrorResponse(http.StatusConflict, "memory was modified concurrently, retry")
	case errors.Is(err, auth.ErrKeySetUnavailable), errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		logger.ErrorContext(ctx, "upstream unavailable", "op", op, "error", err)
		resp := ErrorResponse(http.StatusServiceUnavailable, "service temporarily unavailable")
		resp.Headers["Retry-After"] = "1"
		return resp
	default:
		logger.ErrorContext(ctx, "request failed", "op", op, "error", err)
		return ErrorResponse(http.StatusInternalServerError, "internal error")
	}
}
