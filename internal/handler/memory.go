package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/memories/internal/model"
	"github.com/jun/memories/internal/store"
)

// MemoryService is the use-case layer behind MemoryHandler.
type MemoryService interface {
	List(ctx context.Context, authorization string) ([]model.Memory, error)
	ListPage(ctx context.Context, authorization string, req store.PageRequest) (store.Page, error)
	Get(ctx context.Context, authorization, id string) (model.Memory, error)
	Create(ctx context.Context, authorization string, req model.CreateMemoryRequest) (model.Memory, error)
	Update(ctx context.Context, authorization, id string, u model.MemoryUpdate) (model.Memory, error)
	Delete(ctx context.Context, authorization, id string) error
	RegisterAttachment(ctx context.Context, authorization, id string) (string, error)
}

// MemoryHandler handles the /memories routes.
type MemoryHandler struct {
	svc    MemoryService
	logger *slog.Logger
}

// NewMemoryHandler creates a new MemoryHandler.
func NewMemoryHandler(svc MemoryService, logger *slog.Logger) *MemoryHandler {
	return &MemoryHandler{svc: svc, logger: logger}
}

type itemResponse struct {
	Item model.Memory `json:"item"`
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
}

func authorization(req events.APIGatewayProxyRequest) string {
	return Header(req, "Authorization")
}

// ListMemories returns the caller's memories. Without limit or cursor
// parameters it returns every record; otherwise one page.
func (h *MemoryHandler) ListMemories(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	limitParam := req.QueryStringParameters["limit"]
	cursor := req.QueryStringParameters["cursor"]

	if limitParam == "" && cursor == "" {
		items, err := h.svc.List(ctx, authorization(req))
		if err != nil {
			return writeError(ctx, h.logger, "list", err), nil
		}
		return jsonResponse(http.StatusOK, store.Page{Items: items}), nil
	}

	var limit int
	if limitParam != "" {
		var err error
		limit, err = strconv.Atoi(limitParam)
		if err != nil || limit < 1 {
			return ErrorResponse(http.StatusBadRequest, "limit must be a positive integer"), nil
		}
	}

	page, err := h.svc.ListPage(ctx, authorization(req), store.PageRequest{Limit: limit, Cursor: cursor})
	if err != nil {
		return writeError(ctx, h.logger, "list", err), nil
	}
	return jsonResponse(http.StatusOK, page), nil
}

// GetMemory returns one memory.
func (h *MemoryHandler) GetMemory(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return ErrorResponse(http.StatusBadRequest, "missing memory id"), nil
	}

	m, err := h.svc.Get(ctx, authorization(req), id)
	if err != nil {
		return writeError(ctx, h.logger, "get", err), nil
	}
	return jsonResponse(http.StatusOK, itemResponse{Item: m}), nil
}

// CreateMemory creates a memory from {name, recordDate, favorite?, attachmentKey?}.
func (h *MemoryHandler) CreateMemory(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var input model.CreateMemoryRequest
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return ErrorResponse(http.StatusBadRequest, "invalid request body"), nil
	}

	m, err := h.svc.Create(ctx, authorization(req), input)
	if err != nil {
		return writeError(ctx, h.logger, "create", err), nil
	}
	return jsonResponse(http.StatusCreated, itemResponse{Item: m}), nil
}

// UpdateMemory replaces name, recordDate and favorite.
func (h *MemoryHandler) UpdateMemory(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return ErrorResponse(http.StatusBadRequest, "missing memory id"), nil
	}

	var input model.MemoryUpdate
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return ErrorResponse(http.StatusBadRequest, "invalid request body"), nil
	}

	m, err := h.svc.Update(ctx, authorization(req), id, input)
	if err != nil {
		return writeError(ctx, h.logger, "update", err), nil
	}
	return jsonResponse(http.StatusOK, itemResponse{Item: m}), nil
}

// DeleteMemory deletes a memory.
func (h *MemoryHandler) DeleteMemory(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return ErrorResponse(http.StatusBadRequest, "missing memory id"), nil
	}

	if err := h.svc.Delete(ctx, authorization(req), id); err != nil {
		return writeError(ctx, h.logger, "delete", err), nil
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// CreateAttachmentURL registers the memory's attachment and returns a
// presigned upload URL for it.
func (h *MemoryHandler) CreateAttachmentURL(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return ErrorResponse(http.StatusBadRequest, "missing memory id"), nil
	}

	url, err := h.svc.RegisterAttachment(ctx, authorization(req), id)
	if err != nil {
		return writeError(ctx, h.logger, "attachment", err), nil
	}
	return jsonResponse(http.StatusOK, uploadURLResponse{UploadURL: url}), nil
}
