package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"boxtrack/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrTabNotFound   = errors.New("tab not found")
	ErrTabExists     = errors.New("tab already exists")
	ErrFieldNotFound = errors.New("field not found")
	ErrFieldConflict = errors.New("field was modified concurrently")
)

type TabRepository interface {
	Create(ctx context.Context, tab *domain.Tab) error
	Get(ctx context.Context, id string) (*domain.Tab, error)
	List(ctx context.Context) ([]*domain.Tab, error)
	CreateField(ctx context.Context, field *domain.Field) error
	GetField(ctx context.Context, id string) (*domain.Field, error)
	UpdateField(ctx context.Context, field *domain.Field) error
	ListFields(ctx context.Context, tabID string) ([]domain.Field, error)
}

type tabRepository struct {
	db *kivik.DB
}

type tabDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Tab
}

type fieldDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Field
}

func NewTabRepository(client *kivik.Client, dbName string) TabRepository {
	return &tabRepository{
		db: client.DB(dbName),
	}
}

func tabDocID(id string) string {
	return fmt.Sprintf("tab:%s", id)
}

func fieldDocID(id string) string {
	return fmt.Sprintf("field:%s", id)
}

func (r *tabRepository) Create(ctx context.Context, tab *domain.Tab) error {
	doc := tabDoc{
		ID:      tabDocID(tab.ID),
		DocType: "tab",
		Tab:     *tab,
	}

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return ErrTabExists
		}
		return fmt.Errorf("failed to create tab: %w", err)
	}
	tab.Rev = rev
	return nil
}

func (r *tabRepository) Get(ctx context.Context, id string) (*domain.Tab, error) {
	row := r.db.Get(ctx, tabDocID(id))

	var doc tabDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrTabNotFound
		}
		return nil, fmt.Errorf("failed to get tab: %w", err)
	}

	tab := doc.Tab
	tab.Rev = doc.Rev
	return &tab, nil
}

func (r *tabRepository) List(ctx context.Context) ([]*domain.Tab, error) {
	selector := map[string]interface{}{"doc_type": "tab"}

	var tabs []*domain.Tab
	err := findAll(ctx, r.db, selector, ascending("doc_type", "name"), func(rows *kivik.ResultSet) error {
		var doc tabDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan tab: %w", err)
		}
		tab := doc.Tab
		tab.Rev = doc.Rev
		tabs = append(tabs, &tab)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query tabs: %w", err)
	}
	return tabs, nil
}

func (r *tabRepository) CreateField(ctx context.Context, field *domain.Field) error {
	doc := fieldDoc{
		ID:      fieldDocID(field.ID),
		DocType: "field",
		Field:   *field,
	}

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to create field: %w", err)
	}
	field.Rev = rev
	return nil
}

func (r *tabRepository) GetField(ctx context.Context, id string) (*domain.Field, error) {
	row := r.db.Get(ctx, fieldDocID(id))

	var doc fieldDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrFieldNotFound
		}
		return nil, fmt.Errorf("failed to get field: %w", err)
	}

	field := doc.Field
	field.Rev = doc.Rev
	return &field, nil
}

func (r *tabRepository) UpdateField(ctx context.Context, field *domain.Field) error {
	doc := fieldDoc{
		ID:      fieldDocID(field.ID),
		Rev:     field.Rev,
		DocType: "field",
		Field:   *field,
	}

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return ErrFieldConflict
		}
		return fmt.Errorf("failed to update field: %w", err)
	}
	field.Rev = rev
	return nil
}

func (r *tabRepository) ListFields(ctx context.Context, tabID string) ([]domain.Field, error) {
	selector := map[string]interface{}{
		"doc_type": "field",
		"tab_id":   tabID,
	}

	var fields []domain.Field
	err := findAll(ctx, r.db, selector, nil, func(rows *kivik.ResultSet) error {
		var doc fieldDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan field: %w", err)
		}
		field := doc.Field
		field.Rev = doc.Rev
		fields = append(fields, field)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query fields: %w", err)
	}

	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].CreatedAt.Before(fields[j].CreatedAt)
	})
	return fields, nil
}
