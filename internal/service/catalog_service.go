package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boxtrack/internal/domain"
	"boxtrack/internal/repository"

	"github.com/google/uuid"
)

// CatalogService manages tabs, their fields and their boxes. It shares the
// repositories and box locks of an ItemService, so a box cannot be deleted
// while an item is being placed into it.
type CatalogService struct {
	tabs   repository.TabRepository
	boxes  repository.BoxRepository
	items  repository.ItemRepository
	locks  *boxLocker
	names  sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

func NewCatalogService(items *ItemService, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		tabs:   items.tabs,
		boxes:  items.boxes,
		items:  items.items,
		locks:  items.locks,
		logger: logger,
		now:    time.Now,
	}
}

func (s *CatalogService) CreateTab(ctx context.Context, req *domain.CreateTabRequest) (*domain.Tab, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("tab name is required")
	}
	target := strings.TrimSpace(req.SyncTarget)
	if req.EnableSync && target == "" {
		return nil, invalidf("sync target is required when sync is enabled")
	}

	tab := &domain.Tab{
		ID:          uuid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		EnableSync:  req.EnableSync,
		SyncTarget:  target,
	}
	if err := s.tabs.Create(ctx, tab); err != nil {
		return nil, err
	}

	s.logger.Info("tab created", "tab_id", tab.ID, "sync_target", tab.SyncTarget)
	return tab, nil
}

func (s *CatalogService) ListTabs(ctx context.Context) ([]*domain.Tab, error) {
	tabs, err := s.tabs.List(ctx)
	if err != nil {
		return nil, err
	}
	if tabs == nil {
		tabs = []*domain.Tab{}
	}
	return tabs, nil
}

// CreateField adds a field to a tab and assigns the stable key item metadata
// is stored under. The key never changes afterwards.
func (s *CatalogService) CreateField(ctx context.Context, req *domain.CreateFieldRequest) (*domain.Field, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("field name is required")
	}
	tab, err := s.tabs.Get(ctx, req.TabID)
	if err != nil {
		return nil, translate(err, "tab", req.TabID)
	}

	s.names.Lock()
	defer s.names.Unlock()

	if err := s.ensureFieldName(ctx, tab.ID, name, ""); err != nil {
		return nil, err
	}

	field := &domain.Field{
		ID:            uuid.New().String(),
		TabID:         tab.ID,
		Name:          name,
		StableKey:     newStableKey(),
		AllowedValues: cleanStrings(req.AllowedValues),
		DefaultValue:  strings.TrimSpace(req.DefaultValue),
		Strong:        req.Strong,
		CreatedAt:     s.now(),
	}
	if err := checkDefault(field); err != nil {
		return nil, err
	}
	if err := s.tabs.CreateField(ctx, field); err != nil {
		return nil, err
	}

	s.logger.Info("field created", "tab_id", tab.ID, "field_id", field.ID, "stable_key", field.StableKey)
	return field, nil
}

// UpdateField renames or reconfigures a field. Items keep their metadata
// because it is keyed by the unchanged stable key.
func (s *CatalogService) UpdateField(ctx context.Context, id string, req *domain.UpdateFieldRequest) (*domain.Field, error) {
	s.names.Lock()
	defer s.names.Unlock()

	field, err := s.tabs.GetField(ctx, id)
	if err != nil {
		return nil, translate(err, "field", id)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidf("field name cannot be empty")
		}
		if err := s.ensureFieldName(ctx, field.TabID, name, field.ID); err != nil {
			return nil, err
		}
		field.Name = name
	}
	if req.AllowedValues != nil {
		field.AllowedValues = cleanStrings(req.AllowedValues)
	}
	if req.DefaultValue != nil {
		field.DefaultValue = strings.TrimSpace(*req.DefaultValue)
	}
	if req.Strong != nil {
		field.Strong = *req.Strong
	}
	if field.StableKey == "" {
		field.StableKey = newStableKey()
	}
	if err := checkDefault(field); err != nil {
		return nil, err
	}

	if err := s.tabs.UpdateField(ctx, field); err != nil {
		return nil, translate(err, "field", id)
	}

	s.logger.Info("field updated", "field_id", field.ID, "name", field.Name)
	return field, nil
}

func (s *CatalogService) ListFields(ctx context.Context, tabID string) ([]domain.Field, error) {
	if _, err := s.tabs.Get(ctx, tabID); err != nil {
		return nil, translate(err, "tab", tabID)
	}
	fields, err := s.tabs.ListFields(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = []domain.Field{}
	}
	return fields, nil
}

// CreateBox adds a box to a tab. Box names are unique across all tabs,
// ignoring case.
func (s *CatalogService) CreateBox(ctx context.Context, req *domain.CreateBoxRequest) (*domain.BoxResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidf("box name is required")
	}
	tab, err := s.tabs.Get(ctx, req.TabID)
	if err != nil {
		return nil, translate(err, "tab", req.TabID)
	}

	s.names.Lock()
	defer s.names.Unlock()

	if err := s.ensureBoxName(ctx, name, ""); err != nil {
		return nil, err
	}

	box := &domain.Box{
		ID:          uuid.New().String(),
		TabID:       tab.ID,
		Name:        name,
		Color:       strings.TrimSpace(req.Color),
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.boxes.Create(ctx, box); err != nil {
		return nil, err
	}

	s.logger.Info("box created", "tab_id", tab.ID, "box_id", box.ID, "name", box.Name)
	return &domain.BoxResponse{Box: box}, nil
}

func (s *CatalogService) UpdateBox(ctx context.Context, id string, req *domain.UpdateBoxRequest) (*domain.BoxResponse, error) {
	s.names.Lock()
	defer s.names.Unlock()

	box, err := s.boxes.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "box", id)
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalidf("box name cannot be empty")
		}
		if err := s.ensureBoxName(ctx, name, box.ID); err != nil {
			return nil, err
		}
		box.Name = name
	}
	if req.Color != nil {
		box.Color = strings.TrimSpace(*req.Color)
	}
	if req.Description != nil {
		box.Description = strings.TrimSpace(*req.Description)
	}

	if err := s.boxes.Update(ctx, box); err != nil {
		return nil, translate(err, "box", id)
	}

	items, err := s.items.ListByBox(ctx, box.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("box updated", "box_id", box.ID, "name", box.Name)
	return &domain.BoxResponse{Box: box, ItemsCount: len(items)}, nil
}

// DeleteBox removes an empty box.
func (s *CatalogService) DeleteBox(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	box, err := s.boxes.Get(ctx, id)
	if err != nil {
		return translate(err, "box", id)
	}
	items, err := s.items.ListByBox(ctx, box.ID)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return invalidf("cannot delete box %q, it still holds %d items", box.Name, len(items))
	}

	if err := s.boxes.Delete(ctx, box); err != nil {
		return translate(err, "box", id)
	}

	s.logger.Info("box deleted", "box_id", box.ID, "name", box.Name)
	return nil
}

func (s *CatalogService) ListBoxes(ctx context.Context, tabID string) ([]*domain.BoxResponse, error) {
	if _, err := s.tabs.Get(ctx, tabID); err != nil {
		return nil, translate(err, "tab", tabID)
	}
	boxes, err := s.boxes.ListByTab(ctx, tabID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.BoxResponse, 0, len(boxes))
	for _, box := range boxes {
		items, err := s.items.ListByBox(ctx, box.ID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, &domain.BoxResponse{Box: box, ItemsCount: len(items)})
	}
	return responses, nil
}

func (s *CatalogService) ensureFieldName(ctx context.Context, tabID, name, exceptID string) error {
	fields, err := s.tabs.ListFields(ctx, tabID)
	if err != nil {
		return err
	}
	for _, field := range fields {
		if field.ID != exceptID && strings.EqualFold(field.Name, name) {
			return invalidf("field %q already exists in tab %s", field.Name, tabID)
		}
	}
	return nil
}

func (s *CatalogService) ensureBoxName(ctx context.Context, name, exceptID string) error {
	existing, err := s.boxes.FindByName(ctx, name)
	if errors.Is(err, repository.ErrBoxNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == exceptID {
		return nil
	}

	tabName := existing.TabID
	if tab, err := s.tabs.Get(ctx, existing.TabID); err == nil {
		tabName = tab.Name
	}
	return invalidf("box %q already exists in tab %q", existing.Name, tabName)
}

func newStableKey() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func checkDefault(field *domain.Field) error {
	if field.DefaultValue == "" || len(field.AllowedValues) == 0 {
		return nil
	}
	for _, allowed := range field.AllowedValues {
		if allowed == field.DefaultValue {
			return nil
		}
	}
	return invalidf("default value %q of field %q is not an allowed value", field.DefaultValue, field.Name)
}
