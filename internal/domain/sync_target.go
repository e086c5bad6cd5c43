package domain

import "sort"

// SyncTarget names an external worksheet a tab can be mirrored into. Fields
// maps a tab field display name to the worksheet column header it is
// written under.
type SyncTarget struct {
	Name            string            `json:"name" db:"name"`
	SpreadsheetID   string            `json:"spreadsheet_id" db:"spreadsheet_id"`
	WorksheetName   string            `json:"worksheet_name" db:"worksheet_name"`
	BoxColumn       string            `json:"box_column" db:"box_column"`
	CredentialsPath string            `json:"credentials_path" db:"credentials_path"`
	Fields          map[string]string `json:"fields" db:"-"`
	FieldOrder      []string          `json:"-" db:"-"`
}

// FieldNames returns the mapped field names in their configured order, or
// sorted when no order was recorded.
func (t *SyncTarget) FieldNames() []string {
	if len(t.FieldOrder) == len(t.Fields) {
		return t.FieldOrder
	}
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
