package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"boxtrack/internal/domain"
	"boxtrack/internal/service"
	"boxtrack/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// ItemService is the inventory surface the item routes need.
type ItemService interface {
	Create(ctx context.Context, req *domain.CreateItemRequest) (*domain.ItemResponse, error)
	Update(ctx context.Context, id string, req *domain.UpdateItemRequest) (*domain.ItemResponse, error)
	Delete(ctx context.Context, id string) (*domain.SyncSignal, error)
	Issue(ctx context.Context, id string, req *domain.IssueItemRequest) (*domain.IssueResponse, error)
	Reorder(ctx context.Context, boxID string, orderedIDs []string) ([]*domain.ItemResponse, error)
	Recalculate(ctx context.Context, boxID string) ([]*domain.ItemResponse, error)
	ListByBox(ctx context.Context, boxID string) ([]*domain.ItemResponse, error)
	ListIssues(ctx context.Context, itemID string) ([]*domain.Issue, error)
}

type ItemHandler struct {
	service  ItemService
	validate *validator.Validate
}

func NewItemHandler(service ItemService) *ItemHandler {
	return &ItemHandler{
		service:  service,
		validate: validator.New(),
	}
}

type deleteItemResponse struct {
	ID   string             `json:"id"`
	Sync *domain.SyncSignal `json:"sync,omitempty"`
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create item")
		return
	}

	response.Created(w, item)
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if itemID == "" {
		response.BadRequest(w, "Item ID is required")
		return
	}

	var req domain.UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.Update(r.Context(), itemID, &req)
	if err != nil {
		writeServiceError(w, err, "Failed to update item")
		return
	}

	response.Success(w, item)
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if itemID == "" {
		response.BadRequest(w, "Item ID is required")
		return
	}

	signal, err := h.service.Delete(r.Context(), itemID)
	if err != nil {
		writeServiceError(w, err, "Failed to delete item")
		return
	}

	response.Message(w, "Item deleted", deleteItemResponse{ID: itemID, Sync: signal})
}

func (h *ItemHandler) Issue(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if itemID == "" {
		response.BadRequest(w, "Item ID is required")
		return
	}

	var req domain.IssueItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	issue, err := h.service.Issue(r.Context(), itemID, &req)
	if err != nil {
		writeServiceError(w, err, "Failed to issue item")
		return
	}

	response.Created(w, issue)
}

func (h *ItemHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.service.ListIssues(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "Failed to list issues")
		return
	}

	response.Success(w, issues)
}

func (h *ItemHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req domain.ReorderItemsRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.service.Reorder(r.Context(), req.BoxID, req.OrderedIDs)
	if err != nil {
		writeServiceError(w, err, "Failed to reorder items")
		return
	}

	response.Success(w, items)
}

func (h *ItemHandler) ListByBox(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListByBox(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "Failed to list items")
		return
	}

	response.Success(w, items)
}

func (h *ItemHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Recalculate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "Failed to recalculate positions")
		return
	}

	response.Success(w, items)
}

func (h *ItemHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	return decodeRequest(w, r, h.validate, req)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, validate *validator.Validate, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case service.IsValidation(err):
		response.BadRequest(w, err.Error())
	case service.IsNotFound(err):
		response.NotFound(w, err.Error())
	case service.IsConflict(err):
		response.Conflict(w, err.Error())
	default:
		log.Printf("%s: %v", fallback, err)
		response.InternalError(w, fallback)
	}
}
