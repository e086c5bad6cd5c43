package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"boxtrack/internal/domain"
)

// TargetSource resolves sync targets by name. A missing target is reported
// as (nil, nil).
type TargetSource interface {
	Get(ctx context.Context, name string) (*domain.SyncTarget, error)
}

// Defaults fill in target settings that a target leaves empty.
type Defaults struct {
	SpreadsheetID   string
	CredentialsPath string
}

// Manager reconciles item snapshots with the worksheet of one sync target.
//
// The worksheet is fetched lazily and cached until the next write; every
// write drops the cache so the following operation sees edits made in the
// sheet in the meantime. The target configuration is re-resolved on every
// fetch. Rows are matched by content: the first row in the box region whose
// name and mapped metadata equal the snapshot wins.
type Manager struct {
	target    string
	targets   TargetSource
	newClient ClientFactory
	defaults  Defaults
	logger    *slog.Logger

	mu       sync.Mutex
	state    *state
	clients  map[string]Client
	sheetIDs map[string]int64
}

type state struct {
	client        Client
	spreadsheetID string
	worksheet     string
	boxColumn     string
	fields        map[string]string
	order         []string
	nameField     string
	qtyField      string
	width         int
	header        map[string]int
	regions       []Region
}

func NewManager(target string, targets TargetSource, newClient ClientFactory, defaults Defaults, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		target:    target,
		targets:   targets,
		newClient: newClient,
		defaults:  defaults,
		logger:    logger.With("target", target),
		clients:   make(map[string]Client),
		sheetIDs:  make(map[string]int64),
	}
}

func (m *Manager) Target() string {
	return m.target
}

// HandleCreate adds the item to its box region. An existing matching row
// has its quantity increased when a quantity column is mapped; otherwise a
// new row is inserted after the last row of the region.
func (m *Manager) HandleCreate(ctx context.Context, snapshot *domain.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.create(ctx, snapshot)
}

// HandleUpdate rewrites the cells of the row that matches before (or
// after) where the value changed. Without a matching row the item is
// created. A change of box moves the item by clearing the old row and
// creating it in the new region.
func (m *Manager) HandleUpdate(ctx context.Context, before, after *domain.Snapshot) error {
	if after == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if before != nil && fold(before.Box.Name) != fold(after.Box.Name) {
		if err := m.delete(ctx, before); err != nil {
			return err
		}
		return m.create(ctx, after)
	}
	return m.update(ctx, before, after)
}

// HandleDelete blanks every mapped cell of the matching row. The row itself
// stays so that row numbers of other rows do not shift.
func (m *Manager) HandleDelete(ctx context.Context, snapshot *domain.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delete(ctx, snapshot)
}

func (m *Manager) create(ctx context.Context, s *domain.Snapshot) error {
	st, err := m.ensureState(ctx)
	if err != nil {
		return err
	}
	region := st.findRegion(s.Box.Name)
	if region == nil {
		m.logger.Warn("box not found in worksheet, skipping create", "box", s.Box.Name, "item", s.Item.Name)
		return nil
	}
	defer m.invalidate()

	if row := st.findRow(region, &s.Item); row != nil && st.qtyField != "" {
		idx, ok := st.columnIndex(st.qtyField)
		if !ok {
			return nil
		}
		previous, err := strconv.Atoi(row.Values[st.qtyField])
		if err != nil {
			previous = 0
		}
		write := CellWrite{
			Range: CellRange(st.worksheet, idx, row.Number),
			Value: strconv.Itoa(previous + s.Item.Qty),
		}
		if err := st.client.BatchUpdateValues(ctx, st.spreadsheetID, []CellWrite{write}); err != nil {
			return fmt.Errorf("failed to merge quantity into row %d: %w", row.Number, err)
		}
		m.logger.Info("merged item into existing row", "box", region.Box, "item", s.Item.Name, "row", row.Number)
		return nil
	}

	rowNumber := region.lastRow() + 1
	sheetID, err := m.sheetID(ctx, st)
	if err != nil {
		return err
	}
	if err := st.client.InsertRow(ctx, st.spreadsheetID, sheetID, rowNumber); err != nil {
		return fmt.Errorf("failed to insert row %d: %w", rowNumber, err)
	}
	if err := st.client.UpdateValues(ctx, st.spreadsheetID, RowRange(st.worksheet, rowNumber), [][]string{st.buildRow(s)}); err != nil {
		return fmt.Errorf("failed to write row %d: %w", rowNumber, err)
	}
	m.logger.Info("inserted item row", "box", region.Box, "item", s.Item.Name, "row", rowNumber)
	return nil
}

func (m *Manager) update(ctx context.Context, before, after *domain.Snapshot) error {
	st, err := m.ensureState(ctx)
	if err != nil {
		return err
	}

	boxName := after.Box.Name
	if before != nil && before.Box.Name != "" {
		boxName = before.Box.Name
	}
	region := st.findRegion(boxName)
	if region == nil {
		m.logger.Warn("box not found in worksheet, skipping update", "box", boxName, "item", after.Item.Name)
		return nil
	}

	var row *Row
	if before != nil {
		row = st.findRow(region, &before.Item)
	}
	if row == nil {
		row = st.findRow(region, &after.Item)
	}
	if row == nil {
		m.logger.Info("row not found, creating it", "box", boxName, "item", after.Item.Name)
		return m.create(ctx, after)
	}
	defer m.invalidate()

	var writes []CellWrite
	for _, field := range st.order {
		idx, ok := st.columnIndex(field)
		if !ok {
			continue
		}
		value := st.valueFor(field, after)
		if row.Values[field] != strings.TrimSpace(value) {
			writes = append(writes, CellWrite{Range: CellRange(st.worksheet, idx, row.Number), Value: value})
		}
	}
	if len(writes) == 0 {
		return nil
	}
	if err := st.client.BatchUpdateValues(ctx, st.spreadsheetID, writes); err != nil {
		return fmt.Errorf("failed to update row %d: %w", row.Number, err)
	}
	m.logger.Info("updated item row", "box", region.Box, "item", after.Item.Name, "row", row.Number, "cells", len(writes))
	return nil
}

func (m *Manager) delete(ctx context.Context, s *domain.Snapshot) error {
	st, err := m.ensureState(ctx)
	if err != nil {
		return err
	}
	region := st.findRegion(s.Box.Name)
	if region == nil {
		m.logger.Warn("box not found in worksheet, skipping delete", "box", s.Box.Name, "item", s.Item.Name)
		return nil
	}
	row := st.findRow(region, &s.Item)
	if row == nil {
		m.logger.Info("row to clear not found", "box", s.Box.Name, "item", s.Item.Name)
		return nil
	}
	defer m.invalidate()

	var writes []CellWrite
	for _, field := range st.order {
		if idx, ok := st.columnIndex(field); ok {
			writes = append(writes, CellWrite{Range: CellRange(st.worksheet, idx, row.Number), Value: ""})
		}
	}
	if err := st.client.BatchUpdateValues(ctx, st.spreadsheetID, writes); err != nil {
		return fmt.Errorf("failed to clear row %d: %w", row.Number, err)
	}
	m.logger.Info("cleared item row", "box", region.Box, "item", s.Item.Name, "row", row.Number)
	return nil
}

func (m *Manager) invalidate() {
	m.state = nil
}

// ensureState returns the cached worksheet state, fetching it and adding
// any mapped column missing from the header when nothing is cached.
func (m *Manager) ensureState(ctx context.Context) (*state, error) {
	if m.state != nil {
		return m.state, nil
	}

	st, err := m.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.fetch(ctx, st); err != nil {
		return nil, err
	}

	var (
		missing []CellWrite
		added   = make(map[string]bool)
	)
	for _, field := range st.order {
		column := strings.TrimSpace(st.fields[field])
		if column == "" || added[column] {
			continue
		}
		if _, ok := st.header[column]; !ok {
			added[column] = true
			missing = append(missing, CellWrite{
				Range: CellRange(st.worksheet, st.width+len(missing), 1),
				Value: column,
			})
		}
	}
	if len(missing) > 0 {
		m.logger.Info("adding missing columns to worksheet header", "count", len(missing))
		if err := st.client.BatchUpdateValues(ctx, st.spreadsheetID, missing); err != nil {
			return nil, fmt.Errorf("failed to add missing columns: %w", err)
		}
		if err := m.fetch(ctx, st); err != nil {
			return nil, err
		}
	}

	m.state = st
	return st, nil
}

func (m *Manager) resolve(ctx context.Context) (*state, error) {
	target, err := m.targets.Get(ctx, m.target)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync target %q: %w", m.target, err)
	}
	if target == nil {
		return nil, configErrorf("sync target %q not found", m.target)
	}

	spreadsheetID := target.SpreadsheetID
	if spreadsheetID == "" {
		spreadsheetID = m.defaults.SpreadsheetID
	}
	credentials := target.CredentialsPath
	if credentials == "" {
		credentials = m.defaults.CredentialsPath
	}
	switch {
	case spreadsheetID == "":
		return nil, configErrorf("sync target %q has no spreadsheet id", m.target)
	case target.WorksheetName == "":
		return nil, configErrorf("sync target %q has no worksheet name", m.target)
	case target.BoxColumn == "":
		return nil, configErrorf("sync target %q has no box column", m.target)
	case len(target.Fields) == 0:
		return nil, configErrorf("sync target %q has no field mapping", m.target)
	case credentials == "":
		return nil, configErrorf("no credentials configured for sync target %q", m.target)
	}

	client, ok := m.clients[credentials]
	if !ok {
		client, err = m.newClient(ctx, credentials)
		if err != nil {
			return nil, err
		}
		m.clients[credentials] = client
	}

	st := &state{
		client:        client,
		spreadsheetID: spreadsheetID,
		worksheet:     target.WorksheetName,
		boxColumn:     target.BoxColumn,
		fields:        target.Fields,
		order:         target.FieldNames(),
	}
	for _, field := range st.order {
		if st.nameField == "" && isNameField(field) {
			st.nameField = field
		}
		if st.qtyField == "" && isQtyField(field) {
			st.qtyField = field
		}
	}
	if st.nameField == "" && len(st.order) > 0 {
		st.nameField = st.order[0]
	}
	return st, nil
}

func (m *Manager) fetch(ctx context.Context, st *state) error {
	values, err := st.client.Values(ctx, st.spreadsheetID, st.worksheet)
	if err != nil {
		return fmt.Errorf("failed to fetch worksheet %q: %w", st.worksheet, err)
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return configErrorf("worksheet %q is empty", st.worksheet)
	}

	regions, err := ParseRegions(values, Layout{
		BoxColumn: st.boxColumn,
		Fields:    st.fields,
		NameField: st.nameField,
	})
	if err != nil {
		return err
	}
	st.width = len(values[0])
	st.header = HeaderIndex(values[0])
	st.regions = regions
	return nil
}

func (m *Manager) sheetID(ctx context.Context, st *state) (int64, error) {
	key := st.spreadsheetID + "/" + st.worksheet
	if id, ok := m.sheetIDs[key]; ok {
		return id, nil
	}
	id, err := st.client.SheetID(ctx, st.spreadsheetID, st.worksheet)
	if err != nil {
		return 0, err
	}
	m.sheetIDs[key] = id
	return id, nil
}

func (st *state) findRegion(name string) *Region {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	target := fold(name)
	for i := range st.regions {
		if fold(st.regions[i].Box) == target {
			return &st.regions[i]
		}
	}
	return nil
}

func (st *state) findRow(region *Region, item *domain.SnapshotItem) *Row {
	for i := range region.Rows {
		if st.matches(&region.Rows[i], item) {
			return &region.Rows[i]
		}
	}
	return nil
}

// matches compares the name case-insensitively and every mapped metadata
// value exactly.
func (st *state) matches(row *Row, item *domain.SnapshotItem) bool {
	if fold(row.Values[st.nameField]) != fold(item.Name) {
		return false
	}
	for key, value := range item.Metadata {
		if key == st.nameField || key == st.qtyField {
			continue
		}
		current, ok := row.Values[key]
		if !ok {
			continue
		}
		if current != strings.TrimSpace(value) {
			return false
		}
	}
	return true
}

func (st *state) columnIndex(field string) (int, bool) {
	column, ok := st.fields[field]
	if !ok {
		return 0, false
	}
	idx, ok := st.header[strings.TrimSpace(column)]
	return idx, ok
}

func (st *state) valueFor(field string, s *domain.Snapshot) string {
	switch {
	case isNameField(field):
		return s.Item.Name
	case isQtyField(field):
		if s.Item.Qty == 0 {
			return ""
		}
		return strconv.Itoa(s.Item.Qty)
	default:
		return s.Item.Metadata[field]
	}
}

func (st *state) buildRow(s *domain.Snapshot) []string {
	row := make([]string, st.width)
	for _, field := range st.order {
		if idx, ok := st.columnIndex(field); ok && idx < len(row) {
			row[idx] = st.valueFor(field, s)
		}
	}
	return row
}
