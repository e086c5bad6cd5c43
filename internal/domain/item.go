package domain

import "time"

// Item occupies the half-open slot range [Position, Position+Qty) inside
// its box. Metadata is keyed by field stable keys.
type Item struct {
	ID            string            `json:"id"`
	TabID         string            `json:"tab_id"`
	BoxID         string            `json:"box_id"`
	Name          string            `json:"name"`
	Qty           int               `json:"qty"`
	Position      int               `json:"box_position"`
	Metadata      map[string]string `json:"metadata"`
	SerialNumbers []string          `json:"serial_numbers,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Rev           string            `json:"-"`
}

// Slots is the number of positions the item occupies. Quantities below one
// still take a single slot.
func (i *Item) Slots() int {
	if i.Qty < 1 {
		return 1
	}
	return i.Qty
}

// SlotEnd is the first position after the item's range.
func (i *Item) SlotEnd() int {
	return i.Position + i.Slots()
}

type CreateItemRequest struct {
	TabID         string            `json:"tab_id" validate:"required"`
	BoxID         string            `json:"box_id" validate:"required"`
	Name          string            `json:"name" validate:"required"`
	Qty           int               `json:"qty" validate:"gte=0"`
	Metadata      map[string]string `json:"metadata"`
	SerialNumbers []string          `json:"serial_numbers"`
}

type UpdateItemRequest struct {
	Name          *string           `json:"name"`
	Qty           *int              `json:"qty" validate:"omitempty,gte=1"`
	BoxID         *string           `json:"box_id"`
	Metadata      map[string]string `json:"metadata"`
	SerialNumbers []string          `json:"serial_numbers"`
}

type ReorderItemsRequest struct {
	BoxID      string   `json:"box_id" validate:"required"`
	OrderedIDs []string `json:"ordered_ids" validate:"required,min=1"`
}

// ItemResponse carries metadata translated to display names.
type ItemResponse struct {
	ID            string            `json:"id"`
	TabID         string            `json:"tab_id"`
	BoxID         string            `json:"box_id"`
	Name          string            `json:"name"`
	Qty           int               `json:"qty"`
	Position      int               `json:"box_position"`
	Metadata      map[string]string `json:"metadata"`
	SerialNumbers []string          `json:"serial_numbers,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Sync          *SyncSignal       `json:"sync,omitempty"`
}
