package domain

type Box struct {
	ID          string `json:"id"`
	TabID       string `json:"tab_id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
	Rev         string `json:"-"`
}

type CreateBoxRequest struct {
	TabID       string `json:"tab_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// UpdateBoxRequest edits box attributes. A box never moves between tabs.
type UpdateBoxRequest struct {
	Name        *string `json:"name"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
}

type BoxResponse struct {
	*Box
	ItemsCount int `json:"items_count"`
}
