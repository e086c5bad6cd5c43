package repository

import (
	"context"
	"fmt"

	"github.com/go-kivik/kivik/v4"
)

// findPageSize bounds each _find request. CouchDB returns at most 25 docs
// when no limit is sent, so list queries always page explicitly.
var findPageSize = 200

// mangoIndex is a CouchDB json index definition.
type mangoIndex struct {
	Name   string
	Fields []string
}

var mangoIndexes = []mangoIndex{
	{Name: "tabs-by-name", Fields: []string{"doc_type", "name"}},
	{Name: "items-by-box", Fields: []string{"doc_type", "box_id", "box_position"}},
	{Name: "fields-by-tab", Fields: []string{"doc_type", "tab_id"}},
	{Name: "boxes-by-tab", Fields: []string{"doc_type", "tab_id", "name"}},
	{Name: "boxes-by-name", Fields: []string{"doc_type", "name_key"}},
	{Name: "issues-by-item", Fields: []string{"doc_type", "item_id", "issued_at"}},
}

// EnsureIndexes creates the Mango indexes the list queries sort on. Existing
// indexes are left alone.
func EnsureIndexes(ctx context.Context, client *kivik.Client, dbName string) error {
	db := client.DB(dbName)
	for _, index := range mangoIndexes {
		definition := map[string]interface{}{"fields": index.Fields}
		if err := db.CreateIndex(ctx, "boxtrack", index.Name, definition); err != nil {
			return fmt.Errorf("failed to create index %s: %w", index.Name, err)
		}
	}
	return nil
}

// ascending builds a Mango sort clause over fields.
func ascending(fields ...string) []interface{} {
	sort := make([]interface{}, len(fields))
	for i, field := range fields {
		sort[i] = map[string]string{field: "asc"}
	}
	return sort
}

// findAll runs a Mango query page by page, following the bookmark CouchDB
// returns, and hands every row to scan.
func findAll(ctx context.Context, db *kivik.DB, selector map[string]interface{}, sort []interface{}, scan func(rows *kivik.ResultSet) error) error {
	var bookmark string
	for {
		query := map[string]interface{}{
			"selector": selector,
			"limit":    findPageSize,
		}
		if len(sort) > 0 {
			query["sort"] = sort
		}
		if bookmark != "" {
			query["bookmark"] = bookmark
		}

		rows := db.Find(ctx, query)
		count := 0
		for rows.Next() {
			if err := scan(rows); err != nil {
				rows.Close()
				return err
			}
			count++
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		meta, err := rows.Metadata()
		rows.Close()
		if err != nil {
			return err
		}

		if count < findPageSize || meta.Bookmark == "" || meta.Bookmark == bookmark {
			return nil
		}
		bookmark = meta.Bookmark
	}
}
