package sheets

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

var (
	nameKeys = map[string]bool{"имя": true, "товар": true, "name": true, "item": true, "название": true}
	qtyKeys  = map[string]bool{"qty": true, "quantity": true, "кол-во": true, "количество": true, "шт": true}
)

// minRegionRows is the smallest box region: the row carrying the box name
// plus at least two rows with an empty box cell.
const minRegionRows = 3

// fold normalises s for case-insensitive comparison. A Caser keeps state,
// so one is created per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func isNameField(field string) bool { return nameKeys[fold(field)] }

func isQtyField(field string) bool { return qtyKeys[fold(field)] }

// ColumnLetter converts a 0-based column index to its A1 letter: 0 is A,
// 25 is Z, 26 is AA.
func ColumnLetter(index int) string {
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// HeaderIndex maps trimmed header cells to their column index.
func HeaderIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, cell := range header {
		index[strings.TrimSpace(cell)] = i
	}
	return index
}

// Row is an item row inside a box region. Values is keyed by field name.
type Row struct {
	Number int
	Values map[string]string
}

// Region is a block of rows that belongs to one box. HeaderRow is the
// physical row carrying the box name.
type Region struct {
	Box       string
	HeaderRow int
	Rows      []Row
}

func (r *Region) lastRow() int {
	if len(r.Rows) == 0 {
		return r.HeaderRow
	}
	return r.Rows[len(r.Rows)-1].Number
}

// Layout describes how a worksheet is read.
type Layout struct {
	BoxColumn string
	// Fields maps field names to header cells.
	Fields map[string]string
	// NameField is the field whose empty value marks a non-item row.
	NameField string
}

// ParseRegions splits a worksheet into box regions. Row 1 is the header and
// data starts at physical row 2. A non-empty box cell opens a region only
// when at least two rows with an empty box cell follow it; otherwise the row
// is skipped. Repeated box names get a " (n)" suffix.
func ParseRegions(values [][]string, layout Layout) ([]Region, error) {
	if len(values) == 0 {
		return nil, nil
	}
	header := HeaderIndex(values[0])
	boxIdx, ok := header[strings.TrimSpace(layout.BoxColumn)]
	if !ok {
		return nil, configErrorf("box column %q not found in worksheet header", layout.BoxColumn)
	}

	columns := make(map[string]int, len(layout.Fields))
	for field, column := range layout.Fields {
		if idx, ok := header[strings.TrimSpace(column)]; ok {
			columns[field] = idx
		}
	}

	rows := values[1:]
	validStart := func(start int) bool {
		count := 1
		for j := start + 1; j < len(rows) && cell(rows[j], boxIdx) == ""; j++ {
			count++
		}
		return count >= minRegionRows
	}

	var (
		regions []Region
		current *Region
		seen    = make(map[string]int)
	)
	for i, row := range rows {
		number := i + 2
		if box := cell(row, boxIdx); box != "" {
			if !validStart(i) {
				continue
			}
			if current != nil {
				regions = append(regions, *current)
			}
			current = &Region{Box: dedupe(box, seen), HeaderRow: number}
		}
		if current == nil {
			continue
		}

		item := Row{Number: number, Values: make(map[string]string, len(columns))}
		for field, idx := range columns {
			item.Values[field] = cell(row, idx)
		}
		if nameIdx, ok := columns[layout.NameField]; ok && cell(row, nameIdx) == "" {
			continue
		}
		current.Rows = append(current.Rows, item)
	}
	if current != nil {
		regions = append(regions, *current)
	}
	return regions, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func dedupe(name string, seen map[string]int) string {
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s (%d)", name, n)
	}
	return name
}
