package domain

import "time"

type Tab struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	EnableSync  bool   `json:"enable_sync"`
	SyncTarget  string `json:"sync_target,omitempty"`
	Rev         string `json:"-"`
}

// SyncEnabled reports whether mutations of this tab's items are mirrored
// to an external sheet.
func (t *Tab) SyncEnabled() bool {
	return t != nil && t.EnableSync && t.SyncTarget != ""
}

// Field is a dynamic item attribute defined per tab. Item metadata is keyed
// by StableKey, which never changes after creation; Name is the display
// name and may be renamed freely.
type Field struct {
	ID            string    `json:"id"`
	TabID         string    `json:"tab_id"`
	Name          string    `json:"name"`
	StableKey     string    `json:"stable_key"`
	AllowedValues []string  `json:"allowed_values,omitempty"`
	DefaultValue  string    `json:"default_value,omitempty"`
	Strong        bool      `json:"strong"`
	CreatedAt     time.Time `json:"created_at"`
	Rev           string    `json:"-"`
}

// Key returns the key item metadata is stored under. Fields created before
// stable keys existed fall back to their display name.
func (f Field) Key() string {
	if f.StableKey != "" {
		return f.StableKey
	}
	return f.Name
}

type CreateTabRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	EnableSync  bool   `json:"enable_sync"`
	SyncTarget  string `json:"sync_target"`
}

type CreateFieldRequest struct {
	TabID         string   `json:"tab_id" validate:"required"`
	Name          string   `json:"name" validate:"required"`
	AllowedValues []string `json:"allowed_values"`
	DefaultValue  string   `json:"default_value"`
	Strong        bool     `json:"strong"`
}

// UpdateFieldRequest renames or reconfigures a field. The stable key is
// never touched, so stored item metadata stays valid.
type UpdateFieldRequest struct {
	Name          *string  `json:"name"`
	AllowedValues []string `json:"allowed_values"`
	DefaultValue  *string  `json:"default_value"`
	Strong        *bool    `json:"strong"`
}
