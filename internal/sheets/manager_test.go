package sheets

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"boxtrack/internal/domain"
)

// fakeClient keeps one worksheet in memory and applies writes to it.
type fakeClient struct {
	grid        [][]string
	valuesCalls int
	batches     [][]CellWrite
	rowWrites   []string
	inserts     []int
	sheetID     int64
	err         error
}

func (c *fakeClient) Values(ctx context.Context, spreadsheetID, worksheet string) ([][]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.valuesCalls++
	out := make([][]string, len(c.grid))
	for i, row := range c.grid {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (c *fakeClient) UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	c.rowWrites = append(c.rowWrites, rng)
	ref := rng[strings.Index(rng, "!")+1:]
	number, _ := strconv.Atoi(strings.SplitN(ref, ":", 2)[0])
	c.grid[number-1] = append([]string(nil), rows[0]...)
	return nil
}

func (c *fakeClient) BatchUpdateValues(ctx context.Context, spreadsheetID string, writes []CellWrite) error {
	c.batches = append(c.batches, writes)
	for _, w := range writes {
		col, row := parseCell(w.Range)
		for len(c.grid) < row {
			c.grid = append(c.grid, nil)
		}
		for len(c.grid[row-1]) <= col {
			c.grid[row-1] = append(c.grid[row-1], "")
		}
		c.grid[row-1][col] = w.Value
	}
	return nil
}

func (c *fakeClient) InsertRow(ctx context.Context, spreadsheetID string, sheetID int64, rowNumber int) error {
	c.inserts = append(c.inserts, rowNumber)
	idx := rowNumber - 1
	c.grid = append(c.grid[:idx], append([][]string{{}}, c.grid[idx:]...)...)
	return nil
}

func (c *fakeClient) SheetID(ctx context.Context, spreadsheetID, worksheet string) (int64, error) {
	return c.sheetID, nil
}

func (c *fakeClient) writes() int {
	n := len(c.rowWrites)
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func parseCell(rng string) (col, row int) {
	ref := rng[strings.Index(rng, "!")+1:]
	split := strings.IndexAny(ref, "0123456789")
	letters, digits := ref[:split], ref[split:]
	for _, r := range letters {
		col = col*26 + int(r-'A'+1)
	}
	row, _ = strconv.Atoi(digits)
	return col - 1, row
}

type fakeTargets map[string]*domain.SyncTarget

func (f fakeTargets) Get(ctx context.Context, name string) (*domain.SyncTarget, error) {
	return f[name], nil
}

func stockSheet() [][]string {
	return [][]string{
		{"Box", "Name", "Qty", "Color"},
		{"A1", "HDMI", "2", "black"},
		{"", "USB", "5", "white"},
		{"", "", "", ""},
		{"B2", "Mouse", "1", "grey"},
		{"", "", "", ""},
		{"", "", "", ""},
	}
}

func stockTarget() *domain.SyncTarget {
	return &domain.SyncTarget{
		Name:            "warehouse",
		SpreadsheetID:   "sheet-1",
		WorksheetName:   "Stock",
		BoxColumn:       "Box",
		CredentialsPath: "creds.json",
		Fields:          map[string]string{"Name": "Name", "Qty": "Qty", "Color": "Color"},
		FieldOrder:      []string{"Name", "Qty", "Color"},
	}
}

func newTestManager(t *testing.T, client *fakeClient, target *domain.SyncTarget) *Manager {
	t.Helper()
	targets := fakeTargets{}
	if target != nil {
		targets[target.Name] = target
	}
	factory := func(ctx context.Context, path string) (Client, error) {
		return client, nil
	}
	return NewManager("warehouse", targets, factory, Defaults{}, nil)
}

func snap(box, name string, qty int, color string) *domain.Snapshot {
	return &domain.Snapshot{
		Tab: domain.SnapshotTab{ID: "t1", Name: "Cables", SyncTarget: "warehouse"},
		Box: domain.SnapshotBox{ID: "b1", Name: box},
		Item: domain.SnapshotItem{
			ID:       "i1",
			Name:     name,
			Qty:      qty,
			Metadata: map[string]string{"Color": color},
		},
	}
}

func TestHandleCreate_InsertsThenMerges(t *testing.T) {
	client := &fakeClient{grid: stockSheet(), sheetID: 7}
	m := newTestManager(t, client, stockTarget())
	ctx := context.Background()

	require.NoError(t, m.HandleCreate(ctx, snap("A1", "Adapter", 2, "red")))
	require.Equal(t, []int{4}, client.inserts)
	require.Equal(t, []string{"'Stock'!4:4"}, client.rowWrites)
	require.Equal(t, []string{"", "Adapter", "2", "red"}, client.grid[3])

	require.NoError(t, m.HandleCreate(ctx, snap("a1", "ADAPTER", 3, "red")))
	require.Len(t, client.inserts, 1, "a duplicate create must not add a row")
	require.Len(t, client.grid, 8)
	require.Equal(t, "5", client.grid[3][2])
	require.Equal(t, "B2", client.grid[5][0])
}

func TestHandleCreate_MetadataMismatchInsertsNewRow(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	require.NoError(t, m.HandleCreate(context.Background(), snap("A1", "HDMI", 1, "white")))

	require.Equal(t, []int{4}, client.inserts)
	require.Equal(t, "2", client.grid[1][2], "existing row must be untouched")
}

func TestHandleCreate_WithoutQtyColumnInserts(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	target := stockTarget()
	target.Fields = map[string]string{"Name": "Name", "Color": "Color"}
	target.FieldOrder = []string{"Name", "Color"}
	m := newTestManager(t, client, target)

	require.NoError(t, m.HandleCreate(context.Background(), snap("A1", "HDMI", 1, "black")))

	require.Equal(t, []int{4}, client.inserts)
}

func TestHandleCreate_UnknownBoxIsSkipped(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	require.NoError(t, m.HandleCreate(context.Background(), snap("Z9", "HDMI", 1, "black")))

	require.Zero(t, client.writes())
	require.Empty(t, client.inserts)
}

func TestHandleUpdate_WritesOnlyChangedCells(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	err := m.HandleUpdate(context.Background(), snap("A1", "HDMI", 2, "black"), snap("A1", "HDMI", 2, "blue"))
	require.NoError(t, err)

	require.Len(t, client.batches, 1)
	require.Equal(t, []CellWrite{{Range: "'Stock'!D2", Value: "blue"}}, client.batches[0])
}

func TestHandleUpdate_FallsBackToAfterIdentity(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	// the sheet already shows the new quantity and colour
	err := m.HandleUpdate(context.Background(), snap("A1", "USB", 4, "black"), snap("A1", "USB", 5, "white"))
	require.NoError(t, err)

	require.Zero(t, client.writes())
	require.Empty(t, client.inserts)
}

func TestHandleUpdate_MissingRowIsCreated(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	err := m.HandleUpdate(context.Background(), snap("B2", "Cable", 1, "red"), snap("B2", "Cable", 2, "red"))
	require.NoError(t, err)

	require.Equal(t, []int{6}, client.inserts)
	require.Equal(t, []string{"", "Cable", "2", "red"}, client.grid[5])
}

func TestHandleUpdate_BoxChangeMovesRow(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	err := m.HandleUpdate(context.Background(), snap("A1", "USB", 5, "white"), snap("B2", "USB", 5, "white"))
	require.NoError(t, err)

	require.Equal(t, []string{"", "", "", ""}, client.grid[2])
	require.Equal(t, []int{6}, client.inserts)
	require.Equal(t, "USB", client.grid[5][1])
}

func TestHandleDelete_BlanksMappedCells(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())

	require.NoError(t, m.HandleDelete(context.Background(), snap("A1", "usb", 5, "white")))

	require.Len(t, client.grid, 7, "delete must not remove the row")
	require.Equal(t, []string{"", "", "", ""}, client.grid[2])
	require.Equal(t, "A1", client.grid[1][0])

	// repeating the delete finds nothing to clear
	require.NoError(t, m.HandleDelete(context.Background(), snap("A1", "usb", 5, "white")))
	require.Len(t, client.batches, 1)
}

func TestEnsureState_AddsMissingColumns(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	target := stockTarget()
	target.Fields["Serial"] = "Serial No"
	target.FieldOrder = append(target.FieldOrder, "Serial")
	m := newTestManager(t, client, target)

	s := snap("A1", "Adapter", 1, "red")
	s.Item.Metadata["Serial"] = "SN-1"
	require.NoError(t, m.HandleCreate(context.Background(), s))

	require.Equal(t, []CellWrite{{Range: "'Stock'!E1", Value: "Serial No"}}, client.batches[0])
	require.Equal(t, 2, client.valuesCalls)
	require.Equal(t, []string{"", "Adapter", "1", "red", "SN-1"}, client.grid[3])
}

func TestState_RefetchedAfterWrite(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	m := newTestManager(t, client, stockTarget())
	ctx := context.Background()

	require.NoError(t, m.HandleCreate(ctx, snap("Z9", "HDMI", 1, "black")))
	require.NoError(t, m.HandleCreate(ctx, snap("Z9", "HDMI", 1, "black")))
	require.Equal(t, 1, client.valuesCalls, "state is reused while nothing was written")

	require.NoError(t, m.HandleCreate(ctx, snap("A1", "HDMI", 1, "black")))
	require.NoError(t, m.HandleCreate(ctx, snap("A1", "HDMI", 1, "black")))
	require.Equal(t, 2, client.valuesCalls)
	require.Equal(t, "4", client.grid[1][2])
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		target func() *domain.SyncTarget
		grid   [][]string
	}{
		{name: "missing target", target: func() *domain.SyncTarget { return nil }, grid: stockSheet()},
		{name: "missing worksheet name", target: func() *domain.SyncTarget {
			tt := stockTarget()
			tt.WorksheetName = ""
			return tt
		}, grid: stockSheet()},
		{name: "missing spreadsheet id", target: func() *domain.SyncTarget {
			tt := stockTarget()
			tt.SpreadsheetID = ""
			return tt
		}, grid: stockSheet()},
		{name: "missing credentials", target: func() *domain.SyncTarget {
			tt := stockTarget()
			tt.CredentialsPath = ""
			return tt
		}, grid: stockSheet()},
		{name: "empty worksheet", target: stockTarget, grid: nil},
		{name: "box column absent", target: func() *domain.SyncTarget {
			tt := stockTarget()
			tt.BoxColumn = "Shelf"
			return tt
		}, grid: stockSheet()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{grid: tt.grid}
			m := newTestManager(t, client, tt.target())

			err := m.HandleCreate(context.Background(), snap("A1", "HDMI", 1, "black"))
			require.Error(t, err)
			require.True(t, IsConfigurationError(err), "got %v", err)
			require.Zero(t, client.writes())
		})
	}
}

func TestDefaultsFillMissingSettings(t *testing.T) {
	client := &fakeClient{grid: stockSheet()}
	target := stockTarget()
	target.SpreadsheetID = ""
	target.CredentialsPath = ""

	var opened string
	factory := func(ctx context.Context, path string) (Client, error) {
		opened = path
		return client, nil
	}
	m := NewManager("warehouse", fakeTargets{"warehouse": target}, factory, Defaults{
		SpreadsheetID:   "sheet-default",
		CredentialsPath: "/etc/boxtrack/creds.json",
	}, nil)

	require.NoError(t, m.HandleDelete(context.Background(), snap("A1", "HDMI", 2, "black")))
	require.Equal(t, "/etc/boxtrack/creds.json", opened)
}

func TestRemoteErrorsPropagate(t *testing.T) {
	authErr := &AuthError{Err: errors.New("invalid_grant")}
	client := &fakeClient{grid: stockSheet(), err: authErr}
	m := newTestManager(t, client, stockTarget())

	err := m.HandleCreate(context.Background(), snap("A1", "HDMI", 1, "black"))
	require.True(t, IsAuthError(err))
	require.False(t, IsConfigurationError(err))
}

func TestCyrillicHeaders(t *testing.T) {
	client := &fakeClient{grid: [][]string{
		{"Ящик", "Товар", "Кол-во"},
		{"Коробка", "Кабель", "1"},
		{"", "", ""},
		{"", "", ""},
	}}
	target := &domain.SyncTarget{
		Name:            "warehouse",
		SpreadsheetID:   "s",
		WorksheetName:   "Лист1",
		BoxColumn:       "Ящик",
		CredentialsPath: "c.json",
		Fields:          map[string]string{"Товар": "Товар", "Кол-во": "Кол-во"},
		FieldOrder:      []string{"Товар", "Кол-во"},
	}
	m := newTestManager(t, client, target)

	s := &domain.Snapshot{
		Box:  domain.SnapshotBox{Name: "КОРОБКА"},
		Item: domain.SnapshotItem{Name: "кабель", Qty: 2},
	}
	require.NoError(t, m.HandleCreate(context.Background(), s))

	require.Equal(t, "3", client.grid[1][2])
}
