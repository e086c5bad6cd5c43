package domain

import (
	"encoding/json"
	"time"
)

// Issue is the audit record written every time stock leaves a box.
type Issue struct {
	ID              string          `json:"id"`
	ItemID          string          `json:"item_id"`
	TabID           string          `json:"tab_id"`
	BoxID           string          `json:"box_id"`
	ItemName        string          `json:"item_name"`
	Qty             int             `json:"qty"`
	SerialNumber    string          `json:"serial_number,omitempty"`
	InvoiceNumber   string          `json:"invoice_number,omitempty"`
	ResponsibleUser string          `json:"responsible_user_name"`
	Status          string          `json:"status,omitempty"`
	ItemSnapshot    json.RawMessage `json:"item_snapshot"`
	IssuedAt        time.Time       `json:"issued_at"`
}

type IssueItemRequest struct {
	Qty             int    `json:"qty" validate:"gte=0"`
	SerialNumber    string `json:"serial_number"`
	InvoiceNumber   string `json:"invoice_number"`
	ResponsibleUser string `json:"responsible_user_name" validate:"required"`
	Status          string `json:"status"`
}

type IssueResponse struct {
	Issue *Issue        `json:"issue"`
	Item  *ItemResponse `json:"item,omitempty"`
	Sync  *SyncSignal   `json:"sync,omitempty"`
}
