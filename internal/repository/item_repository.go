package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"boxtrack/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrItemConflict = errors.New("item was modified concurrently")
)

type ItemRepository interface {
	Create(ctx context.Context, item *domain.Item) error
	Get(ctx context.Context, id string) (*domain.Item, error)
	// ListByBox returns the items of a box ordered by position, then id.
	ListByBox(ctx context.Context, boxID string) ([]*domain.Item, error)
	Update(ctx context.Context, item *domain.Item) error
	Delete(ctx context.Context, item *domain.Item) error
	// UpdatePositions writes the positions of several items in one bulk
	// request.
	UpdatePositions(ctx context.Context, items []*domain.Item) error
}

type itemRepository struct {
	db *kivik.DB
}

type itemDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Item
}

func NewItemRepository(client *kivik.Client, dbName string) ItemRepository {
	return &itemRepository{
		db: client.DB(dbName),
	}
}

func itemDocID(id string) string {
	return fmt.Sprintf("item:%s", id)
}

func newItemDoc(item *domain.Item) itemDoc {
	return itemDoc{
		ID:      itemDocID(item.ID),
		Rev:     item.Rev,
		DocType: "item",
		Item:    *item,
	}
}

func (r *itemRepository) Create(ctx context.Context, item *domain.Item) error {
	doc := newItemDoc(item)
	doc.Rev = ""

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	item.Rev = rev
	return nil
}

func (r *itemRepository) Get(ctx context.Context, id string) (*domain.Item, error) {
	row := r.db.Get(ctx, itemDocID(id))

	var doc itemDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	item := doc.Item
	item.Rev = doc.Rev
	return &item, nil
}

func (r *itemRepository) ListByBox(ctx context.Context, boxID string) ([]*domain.Item, error) {
	selector := map[string]interface{}{
		"doc_type": "item",
		"box_id":   boxID,
	}

	var items []*domain.Item
	err := findAll(ctx, r.db, selector, ascending("doc_type", "box_id", "box_position"), func(rows *kivik.ResultSet) error {
		var doc itemDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		item := doc.Item
		item.Rev = doc.Rev
		items = append(items, &item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (r *itemRepository) Update(ctx context.Context, item *domain.Item) error {
	doc := newItemDoc(item)

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == 409 {
			return ErrItemConflict
		}
		return fmt.Errorf("failed to update item: %w", err)
	}
	item.Rev = rev
	return nil
}

func (r *itemRepository) Delete(ctx context.Context, item *domain.Item) error {
	if _, err := r.db.Delete(ctx, itemDocID(item.ID), item.Rev); err != nil {
		switch kivik.HTTPStatus(err) {
		case 404:
			return ErrItemNotFound
		case 409:
			return ErrItemConflict
		}
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (r *itemRepository) UpdatePositions(ctx context.Context, items []*domain.Item) error {
	if len(items) == 0 {
		return nil
	}

	docs := make([]interface{}, len(items))
	byDocID := make(map[string]*domain.Item, len(items))
	for i, item := range items {
		doc := newItemDoc(item)
		docs[i] = doc
		byDocID[doc.ID] = item
	}

	results, err := r.db.BulkDocs(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to update item positions: %w", err)
	}

	var failed []string
	for _, result := range results {
		if result.Error != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", result.ID, result.Error))
			continue
		}
		if item, ok := byDocID[result.ID]; ok {
			item.Rev = result.Rev
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to update item positions: %s", strings.Join(failed, "; "))
	}
	return nil
}
