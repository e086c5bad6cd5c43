package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boxtrack/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrBoxNotFound = errors.New("box not found")
	ErrBoxConflict = errors.New("box was modified concurrently")
)

type BoxRepository interface {
	Create(ctx context.Context, box *domain.Box) error
	Get(ctx context.Context, id string) (*domain.Box, error)
	// FindByName matches names case-insensitively across all tabs and
	// returns ErrBoxNotFound when nothing matches.
	FindByName(ctx context.Context, name string) (*domain.Box, error)
	ListByTab(ctx context.Context, tabID string) ([]*domain.Box, error)
	Update(ctx context.Context, box *domain.Box) error
	Delete(ctx context.Context, box *domain.Box) error
}

type boxRepository struct {
	db *kivik.DB
}

type boxDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	NameKey string `json:"name_key"`
	domain.Box
}

func NewBoxRepository(client *kivik.Client, dbName string) BoxRepository {
	return &boxRepository{
		db: client.DB(dbName),
	}
}

func boxDocID(id string) string {
	return fmt.Sprintf("box:%s", id)
}

func boxNameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newBoxDoc(box *domain.Box) boxDoc {
	return boxDoc{
		ID:      boxDocID(box.ID),
		Rev:     box.Rev,
		DocType: "box",
		NameKey: boxNameKey(box.Name),
		Box:     *box,
	}
}

func (r *boxRepository) Create(ctx context.Context, box *domain.Box) error {
	doc := newBoxDoc(box)
	doc.Rev = ""

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to create box: %w", err)
	}
	box.Rev = rev
	return nil
}

func (r *boxRepository) Get(ctx context.Context, id string) (*domain.Box, error) {
	row := r.db.Get(ctx, boxDocID(id))

	var doc boxDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrBoxNotFound
		}
		return nil, fmt.Errorf("failed to get box: %w", err)
	}

	box := doc.Box
	box.Rev = doc.Rev
	return &box, nil
}

func (r *boxRepository) FindByName(ctx context.Context, name string) (*domain.Box, error) {
	selector := map[string]interface{}{
		"doc_type": "box",
		"name_key": boxNameKey(name),
	}

	var found *domain.Box
	err := findAll(ctx, r.db, selector, nil, func(rows *kivik.ResultSet) error {
		var doc boxDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan box: %w", err)
		}
		if found == nil {
			box := doc.Box
			box.Rev = doc.Rev
			found = &box
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query boxes: %w", err)
	}
	if found == nil {
		return nil, ErrBoxNotFound
	}
	return found, nil
}

func (r *boxRepository) ListByTab(ctx context.Context, tabID string) ([]*domain.Box, error) {
	selector := map[string]interface{}{
		"doc_type": "box",
		"tab_id":   tabID,
	}

	var boxes []*domain.Box
	err := findAll(ctx, r.db, selector, ascending("doc_type", "tab_id", "name"), func(rows *kivik.ResultSet) error {
		var doc boxDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan box: %w", err)
		}
		box := doc.Box
		box.Rev = doc.Rev
		boxes = append(boxes, &box)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query boxes: %w", err)
	}
	return boxes, nil
}

func (r *boxRepository) Update(ctx context.Context, box *domain.Box) error {
	doc := newBoxDoc(box)

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return ErrBoxConflict
		}
		return fmt.Errorf("failed to update box: %w", err)
	}
	box.Rev = rev
	return nil
}

func (r *boxRepository) Delete(ctx context.Context, box *domain.Box) error {
	if _, err := r.db.Delete(ctx, boxDocID(box.ID), box.Rev); err != nil {
		switch kivik.HTTPStatus(err) {
		case 404:
			return ErrBoxNotFound
		case 409:
			return ErrBoxConflict
		}
		return fmt.Errorf("failed to delete box: %w", err)
	}
	return nil
}
