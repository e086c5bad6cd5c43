package repository

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"boxtrack/internal/domain"
)

func newTestTargetRepository(t *testing.T) TargetRepository {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo := NewTargetRepository(db)
	require.NoError(t, repo.InitSchema(context.Background()))
	return repo
}

func TestTargetRepository_UpsertAndGet(t *testing.T) {
	repo := newTestTargetRepository(t)
	ctx := context.Background()

	target := &domain.SyncTarget{
		Name:            "warehouse",
		SpreadsheetID:   "sheet-1",
		WorksheetName:   "Stock",
		BoxColumn:       "Box",
		CredentialsPath: "/etc/creds.json",
		Fields:          map[string]string{"Name": "Item", "Qty": "Count", "Color": "Colour"},
		FieldOrder:      []string{"Name", "Qty", "Color"},
	}
	require.NoError(t, repo.Upsert(ctx, target))

	got, err := repo.Get(ctx, "warehouse")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "sheet-1", got.SpreadsheetID)
	require.Equal(t, "Stock", got.WorksheetName)
	require.Equal(t, "Box", got.BoxColumn)
	require.Equal(t, "/etc/creds.json", got.CredentialsPath)
	require.Equal(t, target.Fields, got.Fields)
	require.Equal(t, []string{"Name", "Qty", "Color"}, got.FieldNames())
}

func TestTargetRepository_UpsertReplacesFields(t *testing.T) {
	repo := newTestTargetRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &domain.SyncTarget{
		Name:       "warehouse",
		Fields:     map[string]string{"Name": "Item", "Qty": "Count"},
		FieldOrder: []string{"Name", "Qty"},
	}))
	require.NoError(t, repo.Upsert(ctx, &domain.SyncTarget{
		Name:          "warehouse",
		WorksheetName: "Stock 2",
		Fields:        map[string]string{"Name": "Item"},
		FieldOrder:    []string{"Name"},
	}))

	got, err := repo.Get(ctx, "warehouse")
	require.NoError(t, err)
	require.Equal(t, "Stock 2", got.WorksheetName)
	require.Equal(t, map[string]string{"Name": "Item"}, got.Fields)
}

func TestTargetRepository_GetMissing(t *testing.T) {
	repo := newTestTargetRepository(t)

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTargetRepository_List(t *testing.T) {
	repo := newTestTargetRepository(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		require.NoError(t, repo.Upsert(ctx, &domain.SyncTarget{
			Name:   name,
			Fields: map[string]string{"Name": "Item"},
		}))
	}

	targets, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	require.Equal(t, "a", targets[0].Name)
	require.Equal(t, "Item", targets[1].Fields["Name"])
}
