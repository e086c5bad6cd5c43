package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"boxtrack/internal/domain"
	"boxtrack/internal/position"
	"boxtrack/internal/repository"
	"boxtrack/internal/syncpayload"

	"github.com/google/uuid"
)

// Enqueuer submits outbound sync jobs. A nil snapshot means the tab does not
// sync and yields a nil signal.
type Enqueuer interface {
	EnqueueCreated(ctx context.Context, snapshot *domain.Snapshot) *domain.SyncSignal
	EnqueueUpdated(ctx context.Context, before, after *domain.Snapshot) *domain.SyncSignal
	EnqueueDeleted(ctx context.Context, snapshot *domain.Snapshot) *domain.SyncSignal
}

type ItemService struct {
	tabs   repository.TabRepository
	boxes  repository.BoxRepository
	items  repository.ItemRepository
	issues repository.IssueRepository
	sync   Enqueuer
	locks  *boxLocker
	logger *slog.Logger
	now    func() time.Time
}

func NewItemService(
	tabs repository.TabRepository,
	boxes repository.BoxRepository,
	items repository.ItemRepository,
	issues repository.IssueRepository,
	sync Enqueuer,
	logger *slog.Logger,
) *ItemService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemService{
		tabs:   tabs,
		boxes:  boxes,
		items:  items,
		issues: issues,
		sync:   sync,
		locks:  newBoxLocker(),
		logger: logger,
		now:    time.Now,
	}
}

func (s *ItemService) Create(ctx context.Context, req *domain.CreateItemRequest) (*domain.ItemResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("item name is required")
	}
	qty := req.Qty
	if qty == 0 {
		qty = 1
	}
	if qty < 1 {
		return nil, invalidf("qty must be at least 1, got %d", req.Qty)
	}

	tab, err := s.getTab(ctx, req.TabID)
	if err != nil {
		return nil, err
	}
	box, err := s.getBox(ctx, req.BoxID)
	if err != nil {
		return nil, err
	}
	if box.TabID != tab.ID {
		return nil, invalidf("box %s does not belong to tab %s", box.ID, tab.ID)
	}
	fields, err := s.tabs.ListFields(ctx, tab.ID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(box.ID)
	defer unlock()

	// the box may have been deleted while waiting for its lock
	if _, err := s.getBox(ctx, box.ID); err != nil {
		return nil, err
	}
	existing, err := s.items.ListByBox(ctx, box.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	item := &domain.Item{
		ID:            uuid.New().String(),
		TabID:         tab.ID,
		BoxID:         box.ID,
		Name:          name,
		Qty:           qty,
		Position:      position.Next(existing),
		Metadata:      withDefaults(normalizeMetadata(req.Metadata, fields), fields),
		SerialNumbers: cleanStrings(req.SerialNumbers),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}

	signal := s.enqueueCreated(ctx, syncpayload.Build(tab, box, item, fields))
	s.logger.Info("item created", "item_id", item.ID, "box_id", box.ID, "position", item.Position)
	return toResponse(item, fields, signal), nil
}

func (s *ItemService) Update(ctx context.Context, id string, req *domain.UpdateItemRequest) (*domain.ItemResponse, error) {
	var transfer string
	if req.BoxID != nil {
		transfer = *req.BoxID
	}
	item, unlock, err := s.lockItem(ctx, id, transfer)
	if err != nil {
		return nil, err
	}
	defer unlock()

	destID := item.BoxID
	if transfer != "" {
		destID = transfer
	}

	tab, err := s.getTab(ctx, item.TabID)
	if err != nil {
		return nil, err
	}
	fields, err := s.tabs.ListFields(ctx, tab.ID)
	if err != nil {
		return nil, err
	}
	source, err := s.getBox(ctx, item.BoxID)
	if err != nil {
		return nil, err
	}
	dest := source
	if destID != source.ID {
		if dest, err = s.getBox(ctx, destID); err != nil {
			return nil, err
		}
		if dest.TabID != item.TabID {
			return nil, invalidf("box %s does not belong to tab %s", dest.ID, item.TabID)
		}
	}

	before := syncpayload.Build(tab, source, item, fields)

	oldQty := item.Qty
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidf("item name cannot be empty")
		}
		item.Name = name
	}
	if req.Qty != nil {
		if *req.Qty < 1 {
			return nil, invalidf("qty must be at least 1, got %d", *req.Qty)
		}
		item.Qty = *req.Qty
	}
	if req.Metadata != nil {
		item.Metadata = normalizeMetadata(req.Metadata, fields)
	}
	if req.SerialNumbers != nil {
		item.SerialNumbers = cleanStrings(req.SerialNumbers)
	}
	item.UpdatedAt = s.now()

	if dest.ID != source.ID {
		destItems, err := s.items.ListByBox(ctx, dest.ID)
		if err != nil {
			return nil, err
		}
		item.BoxID = dest.ID
		item.Position = position.Next(destItems)
		if err := s.save(ctx, item); err != nil {
			return nil, err
		}
		// the move is already stored
		if _, err := s.recalculate(ctx, source.ID); err != nil {
			s.enqueueUpdated(ctx, before, syncpayload.Build(tab, dest, item, fields))
			return nil, err
		}
	} else {
		if err := s.save(ctx, item); err != nil {
			return nil, err
		}
		if item.Qty != oldQty {
			settled, err := s.recalculate(ctx, source.ID)
			if err != nil {
				return nil, err
			}
			refresh(item, settled)
		}
	}

	after := syncpayload.Build(tab, dest, item, fields)
	signal := s.enqueueUpdated(ctx, before, after)
	s.logger.Info("item updated", "item_id", item.ID, "box_id", item.BoxID, "position", item.Position)
	return toResponse(item, fields, signal), nil
}

// Delete removes an item and closes the gap it leaves in its box.
func (s *ItemService) Delete(ctx context.Context, id string) (*domain.SyncSignal, error) {
	item, unlock, err := s.lockItem(ctx, id, "")
	if err != nil {
		return nil, err
	}
	defer unlock()

	snapshot, err := s.snapshot(ctx, item)
	if err != nil {
		return nil, err
	}

	if err := s.items.Delete(ctx, item); err != nil {
		return nil, translate(err, "item", item.ID)
	}
	signal := s.enqueueDeleted(ctx, snapshot)
	if _, err := s.recalculate(ctx, item.BoxID); err != nil {
		return nil, err
	}

	s.logger.Info("item deleted", "item_id", item.ID, "box_id", item.BoxID)
	return signal, nil
}

// Issue takes stock out of a box and records who took it. The item is
// removed once nothing is left.
func (s *ItemService) Issue(ctx context.Context, id string, req *domain.IssueItemRequest) (*domain.IssueResponse, error) {
	responsible := strings.TrimSpace(req.ResponsibleUser)
	if responsible == "" {
		return nil, invalidf("responsible user is required")
	}
	qty := req.Qty
	if qty == 0 {
		qty = 1
	}
	if qty < 1 {
		return nil, invalidf("issued qty must be at least 1, got %d", req.Qty)
	}

	item, unlock, err := s.lockItem(ctx, id, "")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if qty > item.Qty {
		return nil, invalidf("cannot issue %d of %q, only %d in stock", qty, item.Name, item.Qty)
	}

	tab, err := s.getTab(ctx, item.TabID)
	if err != nil {
		return nil, err
	}
	fields, err := s.tabs.ListFields(ctx, tab.ID)
	if err != nil {
		return nil, err
	}
	box, err := s.getBox(ctx, item.BoxID)
	if err != nil {
		return nil, err
	}

	itemSnapshot, err := json.Marshal(toResponse(item, fields, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot item: %w", err)
	}
	before := syncpayload.Build(tab, box, item, fields)

	serial := strings.TrimSpace(req.SerialNumber)
	issue := &domain.Issue{
		ID:              uuid.New().String(),
		ItemID:          item.ID,
		TabID:           item.TabID,
		BoxID:           item.BoxID,
		ItemName:        item.Name,
		Qty:             qty,
		SerialNumber:    serial,
		InvoiceNumber:   strings.TrimSpace(req.InvoiceNumber),
		ResponsibleUser: responsible,
		Status:          strings.TrimSpace(req.Status),
		ItemSnapshot:    itemSnapshot,
		IssuedAt:        s.now(),
	}
	response := &domain.IssueResponse{Issue: issue}

	item.Qty -= qty
	if serial != "" {
		item.SerialNumbers = removeSerial(item.SerialNumbers, serial)
	}
	item.UpdatedAt = issue.IssuedAt

	// the audit record is written only once the stock change is stored
	var recalcErr error
	if item.Qty == 0 {
		if err := s.items.Delete(ctx, item); err != nil {
			return nil, translate(err, "item", item.ID)
		}
		response.Sync = s.enqueueDeleted(ctx, before)
		_, recalcErr = s.recalculate(ctx, item.BoxID)
	} else {
		if err := s.save(ctx, item); err != nil {
			return nil, err
		}
		var settled []*domain.Item
		if settled, recalcErr = s.recalculate(ctx, item.BoxID); recalcErr == nil {
			refresh(item, settled)
		}
		response.Sync = s.enqueueUpdated(ctx, before, syncpayload.Build(tab, box, item, fields))
		response.Item = toResponse(item, fields, nil)
	}

	if err := s.issues.Create(ctx, issue); err != nil {
		s.logger.Error("issue record lost", "item_id", item.ID, "issue_id", issue.ID, "qty", qty, "error", err)
		return nil, err
	}
	if recalcErr != nil {
		return nil, recalcErr
	}

	s.logger.Info("item issued", "item_id", item.ID, "issue_id", issue.ID, "qty", qty, "remaining", item.Qty)
	return response, nil
}

// Reorder assigns positions in the given order. orderedIDs must name every
// item of the box exactly once.
func (s *ItemService) Reorder(ctx context.Context, boxID string, orderedIDs []string) ([]*domain.ItemResponse, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(box.ID)
	defer unlock()

	items, err := s.items.ListByBox(ctx, box.ID)
	if err != nil {
		return nil, err
	}
	changed, err := position.Reorder(items, orderedIDs)
	if errors.Is(err, position.ErrNoItems) {
		return nil, &NotFoundError{Resource: "items of box", ID: box.ID}
	}
	if err != nil {
		return nil, &ValidationError{Message: "invalid order for box " + box.ID, Err: err}
	}
	if err := s.items.UpdatePositions(ctx, changed); err != nil {
		return nil, err
	}

	s.logger.Info("box reordered", "box_id", box.ID, "changed", len(changed))
	position.Sort(items)
	return s.responses(ctx, box.TabID, items)
}

// Recalculate re-packs the positions of a box, for example after items were
// changed outside this service.
func (s *ItemService) Recalculate(ctx context.Context, boxID string) ([]*domain.ItemResponse, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(box.ID)
	defer unlock()

	items, err := s.recalculate(ctx, box.ID)
	if err != nil {
		return nil, err
	}
	return s.responses(ctx, box.TabID, items)
}

func (s *ItemService) ListByBox(ctx context.Context, boxID string) ([]*domain.ItemResponse, error) {
	box, err := s.getBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByBox(ctx, box.ID)
	if err != nil {
		return nil, err
	}
	return s.responses(ctx, box.TabID, items)
}

func (s *ItemService) ListIssues(ctx context.Context, itemID string) ([]*domain.Issue, error) {
	issues, err := s.issues.ListByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []*domain.Issue{}
	}
	return issues, nil
}

// recalculate persists a gap-free packing of the box and returns its items
// in slot order. Callers hold the box lock.
func (s *ItemService) recalculate(ctx context.Context, boxID string) ([]*domain.Item, error) {
	items, err := s.items.ListByBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	changed := position.Recalculate(items)
	if err := s.items.UpdatePositions(ctx, changed); err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.logger.Debug("box positions recalculated", "box_id", boxID, "changed", len(changed))
	}
	position.Sort(items)
	return items, nil
}

// lockItem takes the lock of the item's box, plus extraBox when set, and
// returns the item as read under the lock.
func (s *ItemService) lockItem(ctx context.Context, id, extraBox string) (*domain.Item, func(), error) {
	current, err := s.getItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.locks.lock(current.BoxID, extraBox)
	item, err := s.getItem(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if item.BoxID != current.BoxID {
		unlock()
		return nil, nil, &ConflictError{Resource: "item", ID: id}
	}
	return item, unlock, nil
}

func (s *ItemService) save(ctx context.Context, item *domain.Item) error {
	if err := s.items.Update(ctx, item); err != nil {
		return translate(err, "item", item.ID)
	}
	return nil
}

func (s *ItemService) snapshot(ctx context.Context, item *domain.Item) (*domain.Snapshot, error) {
	tab, err := s.getTab(ctx, item.TabID)
	if err != nil {
		return nil, err
	}
	if !tab.SyncEnabled() {
		return nil, nil
	}
	fields, err := s.tabs.ListFields(ctx, tab.ID)
	if err != nil {
		return nil, err
	}
	box, err := s.boxes.Get(ctx, item.BoxID)
	if err != nil && !errors.Is(err, repository.ErrBoxNotFound) {
		return nil, err
	}
	return syncpayload.Build(tab, box, item, fields), nil
}

func (s *ItemService) responses(ctx context.Context, tabID string, items []*domain.Item) ([]*domain.ItemResponse, error) {
	fields, err := s.tabs.ListFields(ctx, tabID)
	if err != nil {
		return nil, err
	}
	responses := make([]*domain.ItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toResponse(item, fields, nil))
	}
	return responses, nil
}

func (s *ItemService) enqueueCreated(ctx context.Context, snapshot *domain.Snapshot) *domain.SyncSignal {
	if s.sync == nil || snapshot == nil {
		return nil
	}
	return s.sync.EnqueueCreated(ctx, snapshot)
}

func (s *ItemService) enqueueUpdated(ctx context.Context, before, after *domain.Snapshot) *domain.SyncSignal {
	if s.sync == nil || (before == nil && after == nil) {
		return nil
	}
	return s.sync.EnqueueUpdated(ctx, before, after)
}

func (s *ItemService) enqueueDeleted(ctx context.Context, snapshot *domain.Snapshot) *domain.SyncSignal {
	if s.sync == nil || snapshot == nil {
		return nil
	}
	return s.sync.EnqueueDeleted(ctx, snapshot)
}

func (s *ItemService) getTab(ctx context.Context, id string) (*domain.Tab, error) {
	tab, err := s.tabs.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "tab", id)
	}
	return tab, nil
}

func (s *ItemService) getBox(ctx context.Context, id string) (*domain.Box, error) {
	box, err := s.boxes.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "box", id)
	}
	return box, nil
}

func (s *ItemService) getItem(ctx context.Context, id string) (*domain.Item, error) {
	item, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "item", id)
	}
	return item, nil
}

func translate(err error, resource, id string) error {
	switch {
	case errors.Is(err, repository.ErrTabNotFound),
		errors.Is(err, repository.ErrBoxNotFound),
		errors.Is(err, repository.ErrItemNotFound),
		errors.Is(err, repository.ErrFieldNotFound):
		return &NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, repository.ErrItemConflict),
		errors.Is(err, repository.ErrBoxConflict),
		errors.Is(err, repository.ErrFieldConflict):
		return &ConflictError{Resource: resource, ID: id}
	}
	return err
}

// refresh copies the settled position of item out of a recalculated list.
func refresh(item *domain.Item, settled []*domain.Item) {
	for _, other := range settled {
		if other.ID == item.ID {
			item.Position = other.Position
			item.Rev = other.Rev
			return
		}
	}
}

// normalizeMetadata rekeys metadata by stable key. When a request names a
// field by both its display name and its stable key, the stable key wins.
func normalizeMetadata(metadata map[string]string, fields []domain.Field) map[string]string {
	keys := syncpayload.StableKeys(fields)
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		if stable, ok := keys[key]; !ok || stable == key {
			out[key] = value
		}
	}
	for key, value := range metadata {
		stable, ok := keys[key]
		if !ok || stable == key {
			continue
		}
		if _, set := out[stable]; !set {
			out[stable] = value
		}
	}
	return out
}

// withDefaults fills fields missing from metadata with their default value.
func withDefaults(metadata map[string]string, fields []domain.Field) map[string]string {
	for _, field := range fields {
		if field.DefaultValue == "" {
			continue
		}
		if _, set := metadata[field.Key()]; !set {
			metadata[field.Key()] = field.DefaultValue
		}
	}
	return metadata
}

// cleanStrings trims values and drops the blank ones.
func cleanStrings(values []string) []string {
	var out []string
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func removeSerial(serials []string, serial string) []string {
	for i, candidate := range serials {
		if candidate == serial {
			return append(serials[:i:i], serials[i+1:]...)
		}
	}
	return serials
}

func toResponse(item *domain.Item, fields []domain.Field, signal *domain.SyncSignal) *domain.ItemResponse {
	names := syncpayload.DisplayNames(fields)
	metadata := make(map[string]string, len(item.Metadata))
	for key, value := range item.Metadata {
		if name, ok := names[key]; ok {
			key = name
		}
		metadata[key] = value
	}

	return &domain.ItemResponse{
		ID:            item.ID,
		TabID:         item.TabID,
		BoxID:         item.BoxID,
		Name:          item.Name,
		Qty:           item.Qty,
		Position:      item.Position,
		Metadata:      metadata,
		SerialNumbers: item.SerialNumbers,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
		Sync:          signal,
	}
}
