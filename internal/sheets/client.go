package sheets

import (
	"context"
	"fmt"
	"strings"
)

// Client is the subset of the spreadsheet API the manager needs. Values
// are exchanged as strings; writes are interpreted as if typed by a user.
type Client interface {
	// Values returns every non-empty row of the worksheet, header first.
	Values(ctx context.Context, spreadsheetID, worksheet string) ([][]string, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) error
	BatchUpdateValues(ctx context.Context, spreadsheetID string, writes []CellWrite) error
	// InsertRow inserts an empty row so that it becomes rowNumber (1-based).
	InsertRow(ctx context.Context, spreadsheetID string, sheetID int64, rowNumber int) error
	SheetID(ctx context.Context, spreadsheetID, worksheet string) (int64, error)
}

// ClientFactory opens a client authenticated with the given credentials
// file.
type ClientFactory func(ctx context.Context, credentialsPath string) (Client, error)

type CellWrite struct {
	Range string
	Value string
}

func quoteSheet(worksheet string) string {
	return "'" + strings.ReplaceAll(worksheet, "'", "''") + "'"
}

// CellRange addresses a single cell in A1 notation.
func CellRange(worksheet string, column, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(worksheet), ColumnLetter(column), row)
}

// RowRange addresses a whole row in A1 notation.
func RowRange(worksheet string, row int) string {
	return fmt.Sprintf("%s!%d:%d", quoteSheet(worksheet), row, row)
}
