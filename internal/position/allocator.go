// Package position keeps item slot ranges inside a box contiguous.
//
// An item of quantity q starting at position p occupies [p, p+q). After
// Recalculate or Reorder the ranges of a box, ordered by position, start at
// 1 and leave no gaps. Callers must serialise position-affecting writes per
// box; nothing here locks.
package position

import (
	"errors"
	"fmt"
	"sort"

	"boxtrack/internal/domain"
)

var (
	ErrNoItems       = errors.New("box has no items to reorder")
	ErrOrderMismatch = errors.New("ordered id set does not match box items")
)

// Next returns the first free position after the box's high-water mark.
// Earlier gaps are never reused.
func Next(items []*domain.Item) int {
	next := 1
	for _, item := range items {
		if end := item.SlotEnd(); end > next {
			next = end
		}
	}
	return next
}

// Recalculate walks the items by (position, id) and reassigns positions so
// every item starts where the previous one ended. It returns the items
// whose position changed, in walk order.
func Recalculate(items []*domain.Item) []*domain.Item {
	ordered := make([]*domain.Item, len(items))
	copy(ordered, items)
	Sort(ordered)
	return assign(ordered)
}

// Sort orders items in place by (position, id), the walk order of
// Recalculate.
func Sort(items []*domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
}

// Reorder assigns positions following orderedIDs, which must be a
// permutation of the ids of items.
func Reorder(items []*domain.Item, orderedIDs []string) ([]*domain.Item, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if len(orderedIDs) != len(items) {
		return nil, fmt.Errorf("%w: got %d ids for %d items", ErrOrderMismatch, len(orderedIDs), len(items))
	}

	byID := make(map[string]*domain.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	ordered := make([]*domain.Item, 0, len(orderedIDs))
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		item, ok := byID[id]
		if !ok || seen[id] {
			return nil, fmt.Errorf("%w: unexpected id %q", ErrOrderMismatch, id)
		}
		seen[id] = true
		ordered = append(ordered, item)
	}

	return assign(ordered), nil
}

// Contiguous reports whether the items, ordered by position, tile the range
// starting at 1 without gaps or overlaps.
func Contiguous(items []*domain.Item) bool {
	ordered := make([]*domain.Item, len(items))
	copy(ordered, items)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	cursor := 1
	for _, item := range ordered {
		if item.Position != cursor {
			return false
		}
		cursor = item.SlotEnd()
	}
	return true
}

func assign(ordered []*domain.Item) []*domain.Item {
	var changed []*domain.Item
	cursor := 1
	for _, item := range ordered {
		if item.Position != cursor {
			item.Position = cursor
			changed = append(changed, item)
		}
		cursor += item.Slots()
	}
	return changed
}
