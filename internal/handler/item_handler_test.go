package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"boxtrack/internal/domain"
	"boxtrack/internal/service"
	"boxtrack/pkg/response"

	"github.com/gorilla/mux"
)

type fakeItemService struct {
	created *domain.CreateItemRequest
	err     error
	order   []string
}

func (f *fakeItemService) Create(ctx context.Context, req *domain.CreateItemRequest) (*domain.ItemResponse, error) {
	f.created = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ItemResponse{ID: "i1", Name: req.Name, Qty: 1, Position: 1,
		Sync: &domain.SyncSignal{Status: domain.SyncSignalSuccess, Detail: "A1 — " + req.Name}}, nil
}

func (f *fakeItemService) Update(ctx context.Context, id string, req *domain.UpdateItemRequest) (*domain.ItemResponse, error) {
	return &domain.ItemResponse{ID: id}, f.err
}

func (f *fakeItemService) Delete(ctx context.Context, id string) (*domain.SyncSignal, error) {
	return nil, f.err
}

func (f *fakeItemService) Issue(ctx context.Context, id string, req *domain.IssueItemRequest) (*domain.IssueResponse, error) {
	return &domain.IssueResponse{Issue: &domain.Issue{ItemID: id, Qty: req.Qty}}, f.err
}

func (f *fakeItemService) Reorder(ctx context.Context, boxID string, orderedIDs []string) ([]*domain.ItemResponse, error) {
	f.order = orderedIDs
	return nil, f.err
}

func (f *fakeItemService) Recalculate(ctx context.Context, boxID string) ([]*domain.ItemResponse, error) {
	return nil, f.err
}

func (f *fakeItemService) ListByBox(ctx context.Context, boxID string) ([]*domain.ItemResponse, error) {
	return []*domain.ItemResponse{{ID: "i1", BoxID: boxID}}, f.err
}

func (f *fakeItemService) ListIssues(ctx context.Context, itemID string) ([]*domain.Issue, error) {
	return []*domain.Issue{}, f.err
}

func newRouter(svc ItemService) *mux.Router {
	h := NewItemHandler(svc)
	r := mux.NewRouter()
	r.HandleFunc("/items", h.Create).Methods("POST")
	r.HandleFunc("/items/reorder", h.Reorder).Methods("POST")
	r.HandleFunc("/items/{id}", h.Update).Methods("PUT")
	r.HandleFunc("/items/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/items/{id}/issue", h.Issue).Methods("POST")
	r.HandleFunc("/boxes/{id}/items", h.ListByBox).Methods("GET")
	return r
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp response.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestItemHandler_Create(t *testing.T) {
	svc := &fakeItemService{}
	rec, resp := do(newRouter(svc), "POST", "/items", `{"tab_id":"t1","box_id":"b1","name":"HDMI"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Error("expected success envelope")
	}
	if svc.created == nil || svc.created.Name != "HDMI" {
		t.Errorf("expected request to reach the service, got %+v", svc.created)
	}
	data := resp.Data.(map[string]interface{})
	if sync := data["sync"].(map[string]interface{}); sync["status"] != "success" {
		t.Errorf("expected sync signal in response, got %v", data["sync"])
	}
}

func TestItemHandler_CreateValidates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"tab_id":`},
		{name: "missing name", body: `{"tab_id":"t1","box_id":"b1"}`},
		{name: "negative qty", body: `{"tab_id":"t1","box_id":"b1","name":"x","qty":-2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeItemService{}
			rec, resp := do(newRouter(svc), "POST", "/items", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if resp.Success || resp.Error == "" {
				t.Errorf("unexpected envelope %+v", resp)
			}
			if svc.created != nil {
				t.Error("invalid request must not reach the service")
			}
		})
	}
}

func TestItemHandler_MapsServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: &service.ValidationError{Message: "qty must be at least 1"}, want: http.StatusBadRequest},
		{name: "not found", err: &service.NotFoundError{Resource: "item", ID: "i9"}, want: http.StatusNotFound},
		{name: "conflict", err: &service.ConflictError{Resource: "item", ID: "i9"}, want: http.StatusConflict},
		{name: "internal", err: errors.New("couch unavailable"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(newRouter(&fakeItemService{err: tt.err}), "DELETE", "/items/i9", "")
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(resp.Error, "couch") {
				t.Errorf("internal details must not leak, got %q", resp.Error)
			}
		})
	}
}

func TestItemHandler_Reorder(t *testing.T) {
	svc := &fakeItemService{}

	rec, _ := do(newRouter(svc), "POST", "/items/reorder", `{"box_id":"b1","ordered_ids":["c","a","b"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Join(svc.order, ",") != "c,a,b" {
		t.Errorf("expected order c,a,b, got %v", svc.order)
	}

	rec, _ = do(newRouter(svc), "POST", "/items/reorder", `{"box_id":"b1","ordered_ids":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty order, got %d", rec.Code)
	}
}

func TestItemHandler_IssueAndList(t *testing.T) {
	r := newRouter(&fakeItemService{})

	rec, _ := do(r, "POST", "/items/i1/issue", `{"qty":2,"responsible_user_name":"tester"}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	rec, _ = do(r, "POST", "/items/i1/issue", `{"qty":2}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without responsible user, got %d", rec.Code)
	}

	rec, resp := do(r, "GET", "/boxes/b7/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	items := resp.Data.([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["box_id"] != "b7" {
		t.Errorf("unexpected items %v", items)
	}
}
