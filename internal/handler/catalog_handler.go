package handler

import (
	"context"
	"net/http"

	"boxtrack/internal/domain"
	"boxtrack/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// CatalogService manages the tabs, fields and boxes items live in.
type CatalogService interface {
	CreateTab(ctx context.Context, req *domain.CreateTabRequest) (*domain.Tab, error)
	ListTabs(ctx context.Context) ([]*domain.Tab, error)
	CreateField(ctx context.Context, req *domain.CreateFieldRequest) (*domain.Field, error)
	UpdateField(ctx context.Context, id string, req *domain.UpdateFieldRequest) (*domain.Field, error)
	ListFields(ctx context.Context, tabID string) ([]domain.Field, error)
	CreateBox(ctx context.Context, req *domain.CreateBoxRequest) (*domain.BoxResponse, error)
	UpdateBox(ctx context.Context, id string, req *domain.UpdateBoxRequest) (*domain.BoxResponse, error)
	DeleteBox(ctx context.Context, id string) error
	ListBoxes(ctx context.Context, tabID string) ([]*domain.BoxResponse, error)
}

type CatalogHandler struct {
	service  CatalogService
	validate *validator.Validate
}

func NewCatalogHandler(service CatalogService) *CatalogHandler {
	return &CatalogHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CatalogHandler) CreateTab(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTabRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	tab, err := h.service.CreateTab(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create tab")
		return
	}

	response.Created(w, tab)
}

func (h *CatalogHandler) ListTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.service.ListTabs(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list tabs")
		return
	}

	response.Success(w, tabs)
}

func (h *CatalogHandler) CreateField(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFieldRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	field, err := h.service.CreateField(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create field")
		return
	}

	response.Created(w, field)
}

func (h *CatalogHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	fieldID := mux.Vars(r)["id"]
	if fieldID == "" {
		response.BadRequest(w, "Field ID is required")
		return
	}

	var req domain.UpdateFieldRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	field, err := h.service.UpdateField(r.Context(), fieldID, &req)
	if err != nil {
		writeServiceError(w, err, "Failed to update field")
		return
	}

	response.Success(w, field)
}

func (h *CatalogHandler) ListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := h.service.ListFields(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "Failed to list fields")
		return
	}

	response.Success(w, fields)
}

func (h *CatalogHandler) CreateBox(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBoxRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	box, err := h.service.CreateBox(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create box")
		return
	}

	response.Created(w, box)
}

func (h *CatalogHandler) UpdateBox(w http.ResponseWriter, r *http.Request) {
	boxID := mux.Vars(r)["id"]
	if boxID == "" {
		response.BadRequest(w, "Box ID is required")
		return
	}

	var req domain.UpdateBoxRequest
	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	box, err := h.service.UpdateBox(r.Context(), boxID, &req)
	if err != nil {
		writeServiceError(w, err, "Failed to update box")
		return
	}

	response.Success(w, box)
}

func (h *CatalogHandler) DeleteBox(w http.ResponseWriter, r *http.Request) {
	boxID := mux.Vars(r)["id"]
	if boxID == "" {
		response.BadRequest(w, "Box ID is required")
		return
	}

	if err := h.service.DeleteBox(r.Context(), boxID); err != nil {
		writeServiceError(w, err, "Failed to delete box")
		return
	}

	response.Message(w, "Box deleted", map[string]string{"id": boxID})
}

func (h *CatalogHandler) ListBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := h.service.ListBoxes(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, "Failed to list boxes")
		return
	}

	response.Success(w, boxes)
}
