package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"boxtrack/internal/domain"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const targetSchema = `
CREATE TABLE IF NOT EXISTS sync_targets (
	name             TEXT PRIMARY KEY,
	spreadsheet_id   TEXT NOT NULL DEFAULT '',
	worksheet_name   TEXT NOT NULL DEFAULT '',
	box_column       TEXT NOT NULL DEFAULT '',
	credentials_path TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sync_target_fields (
	target_name TEXT NOT NULL REFERENCES sync_targets(name) ON DELETE CASCADE,
	field_name  TEXT NOT NULL,
	column_name TEXT NOT NULL,
	position    INTEGER NOT NULL,
	PRIMARY KEY (target_name, field_name)
);
`

// TargetRepository is the registry of sync targets. Get reports a missing
// target as (nil, nil).
type TargetRepository interface {
	InitSchema(ctx context.Context) error
	Get(ctx context.Context, name string) (*domain.SyncTarget, error)
	List(ctx context.Context) ([]*domain.SyncTarget, error)
	Upsert(ctx context.Context, target *domain.SyncTarget) error
}

type targetRepository struct {
	db *sqlx.DB
}

type targetField struct {
	TargetName string `db:"target_name"`
	FieldName  string `db:"field_name"`
	ColumnName string `db:"column_name"`
	Position   int    `db:"position"`
}

// OpenTargetDB opens the SQLite file holding the target registry.
func OpenTargetDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open target registry: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open target registry: %w", err)
	}
	return db, nil
}

func NewTargetRepository(db *sqlx.DB) TargetRepository {
	return &targetRepository{db: db}
}

func (r *targetRepository) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, targetSchema); err != nil {
		return fmt.Errorf("failed to apply target schema: %w", err)
	}
	return nil
}

func (r *targetRepository) Get(ctx context.Context, name string) (*domain.SyncTarget, error) {
	var target domain.SyncTarget
	const q = `SELECT name, spreadsheet_id, worksheet_name, box_column, credentials_path FROM sync_targets WHERE name = ?`
	if err := r.db.GetContext(ctx, &target, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync target %s: %w", name, err)
	}

	if err := r.loadFields(ctx, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (r *targetRepository) List(ctx context.Context) ([]*domain.SyncTarget, error) {
	var targets []*domain.SyncTarget
	const q = `SELECT name, spreadsheet_id, worksheet_name, box_column, credentials_path FROM sync_targets ORDER BY name`
	if err := r.db.SelectContext(ctx, &targets, q); err != nil {
		return nil, fmt.Errorf("failed to list sync targets: %w", err)
	}

	for _, target := range targets {
		if err := r.loadFields(ctx, target); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func (r *targetRepository) loadFields(ctx context.Context, target *domain.SyncTarget) error {
	var fields []targetField
	const q = `SELECT target_name, field_name, column_name, position FROM sync_target_fields WHERE target_name = ? ORDER BY position`
	if err := r.db.SelectContext(ctx, &fields, q, target.Name); err != nil {
		return fmt.Errorf("failed to load fields of sync target %s: %w", target.Name, err)
	}

	target.Fields = make(map[string]string, len(fields))
	target.FieldOrder = make([]string, 0, len(fields))
	for _, f := range fields {
		target.Fields[f.FieldName] = f.ColumnName
		target.FieldOrder = append(target.FieldOrder, f.FieldName)
	}
	return nil
}

// Upsert replaces the target and its whole field mapping.
func (r *targetRepository) Upsert(ctx context.Context, target *domain.SyncTarget) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO sync_targets (name, spreadsheet_id, worksheet_name, box_column, credentials_path)
		VALUES (:name, :spreadsheet_id, :worksheet_name, :box_column, :credentials_path)
		ON CONFLICT(name) DO UPDATE SET
			spreadsheet_id = excluded.spreadsheet_id,
			worksheet_name = excluded.worksheet_name,
			box_column = excluded.box_column,
			credentials_path = excluded.credentials_path
	`
	if _, err := tx.NamedExecContext(ctx, upsert, target); err != nil {
		return fmt.Errorf("failed to upsert sync target %s: %w", target.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_target_fields WHERE target_name = ?`, target.Name); err != nil {
		return fmt.Errorf("failed to reset fields of sync target %s: %w", target.Name, err)
	}
	for i, name := range target.FieldNames() {
		field := targetField{
			TargetName: target.Name,
			FieldName:  name,
			ColumnName: target.Fields[name],
			Position:   i,
		}
		const insert = `INSERT INTO sync_target_fields (target_name, field_name, column_name, position) VALUES (:target_name, :field_name, :column_name, :position)`
		if _, err := tx.NamedExecContext(ctx, insert, field); err != nil {
			return fmt.Errorf("failed to insert field %s of sync target %s: %w", name, target.Name, err)
		}
	}

	return tx.Commit()
}
