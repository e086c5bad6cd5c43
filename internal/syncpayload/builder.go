// Package syncpayload turns inventory entities into the snapshots carried
// by sync jobs.
package syncpayload

import (
	"fmt"

	"boxtrack/internal/domain"
)

// Build returns the snapshot of item as it should appear in the tab's sync
// target, or nil when the tab does not sync. Metadata is re-keyed from stable
// keys to current field display names; keys with no matching field pass
// through unchanged.
func Build(tab *domain.Tab, box *domain.Box, item *domain.Item, fields []domain.Field) *domain.Snapshot {
	if !tab.SyncEnabled() || item == nil {
		return nil
	}

	names := DisplayNames(fields)
	metadata := make(map[string]string, len(item.Metadata))
	for key, value := range item.Metadata {
		if name, ok := names[key]; ok {
			key = name
		}
		metadata[key] = value
	}

	snapshot := &domain.Snapshot{
		Tab: domain.SnapshotTab{
			ID:         tab.ID,
			Name:       tab.Name,
			SyncTarget: tab.SyncTarget,
		},
		Box: domain.SnapshotBox{Name: "Box"},
		Item: domain.SnapshotItem{
			ID:       item.ID,
			Name:     item.Name,
			Qty:      item.Qty,
			Metadata: metadata,
		},
	}
	if box != nil {
		snapshot.Box.ID = box.ID
		switch {
		case box.Name != "":
			snapshot.Box.Name = box.Name
		case box.ID != "":
			snapshot.Box.Name = fmt.Sprintf("Box #%s", box.ID)
		}
	}
	return snapshot
}

// DisplayNames maps field stable keys to display names.
func DisplayNames(fields []domain.Field) map[string]string {
	names := make(map[string]string, len(fields))
	for _, f := range fields {
		names[f.Key()] = f.Name
	}
	return names
}

// StableKeys maps field display names and stable keys to stable keys, so
// callers may address metadata by either.
func StableKeys(fields []domain.Field) map[string]string {
	keys := make(map[string]string, len(fields)*2)
	for _, f := range fields {
		keys[f.Name] = f.Key()
	}
	for _, f := range fields {
		keys[f.Key()] = f.Key()
	}
	return keys
}
