package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return OpenMemory(t)
}

func TestSchema_Tables(t *testing.T) {
	// WHAT: Verify schema creates all tables without error.
	// WHY: Schema is the foundation; if it fails, nothing works.
	s := openTestStore(t)
	for _, table := range []string{"projects", "runs", "run_components", "spec_notes"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, table)
	}
	// Applying twice is harmless.
	_, err := s.DB.Exec(Schema)
	assert.NoError(t, err)
}

func TestProjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &Project{ID: "p1", Name: "Smith Residence", Address: "1 Sun St", AHJ: "City of Fresno"}
	require.NoError(t, s.UpsertProject(ctx, p))
	created := p.CreatedAt

	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "City of Fresno", got.AHJ)

	// WHAT: upsert updates mutable fields and keeps created_at.
	require.NoError(t, s.UpsertProject(ctx, &Project{ID: "p1", Name: "Smith Residence 2", CreatedAt: 1}))
	got, err = s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Smith Residence 2", got.Name)
	assert.Equal(t, created, got.CreatedAt)

	require.NoError(t, s.UpsertProject(ctx, &Project{ID: "p2", Name: "Jones"}))
	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	missing, err := s.GetProject(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.UpsertProject(ctx, &Project{}))
}

func TestRuns(t *testing.T) {
	// WHAT: a run and its components round-trip; listing filters by project.
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID: "run_1", ProjectID: "p1", Status: "partial", OutputPath: "/out/p.pdf",
		ProcessingMs: 1234, Total: 2, Found: 1, Cached: 1, Missing: 1, SuccessRate: 50,
		ReportJSON: `{"run_id":"run_1"}`, CreatedAt: 100,
		Components: []RunComponent{
			{RowIndex: 2, PartName: "Rail", Quantity: 4, Status: "not_found", Message: "no sheet"},
			{RowIndex: 1, PartName: "Micro", PartNumber: "IQ8", Quantity: 20, Status: "found_exact", Origin: "cache", ResolvedPath: "/c/iq8.pdf"},
		},
	}
	require.NoError(t, s.InsertRun(ctx, run))
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "run_2", ProjectID: "p1", Status: "completed", CreatedAt: 200}))
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "run_3", ProjectID: "p2", Status: "completed", CreatedAt: 300}))

	got, err := s.GetRun(ctx, "run_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 50.0, got.SuccessRate)
	assert.Equal(t, `{"run_id":"run_1"}`, got.ReportJSON)
	require.Len(t, got.Components, 2)
	assert.Equal(t, 1, got.Components[0].RowIndex)
	assert.Equal(t, "IQ8", got.Components[0].PartNumber)

	runs, err := s.ListRuns(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_2", runs[0].ID)
	assert.Empty(t, runs[0].Components)

	all, err := s.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run_3", all[0].ID)

	none, err := s.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInsertRun_DuplicateRollsBack(t *testing.T) {
	// WHAT: a failing component insert rolls back the run row.
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InsertRun(ctx, &Run{ID: "run_x", Status: "partial", Components: []RunComponent{
		{RowIndex: 1, Status: "found_exact"},
		{RowIndex: 1, Status: "found_exact"},
	}})
	require.Error(t, err)

	got, err := s.GetRun(ctx, "run_x")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNotes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, pn := range []string{"XR100", "XR100", "IQ8"} {
		require.NoError(t, s.InsertNote(ctx, &Note{
			ID: fmt.Sprintf("note_%d", i), PartNumber: pn, URL: "https://example.com",
			Markdown: "# page", FetchedAt: int64(i + 1),
		}))
	}

	notes, err := s.ListNotes(ctx, "XR100")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "note_1", notes[0].ID)

	all, err := s.ListNotes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "permitpack.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.UpsertProject(context.Background(), &Project{ID: "p"}))
	assert.FileExists(t, path)
}

func TestOpen_ConnectionPragmas(t *testing.T) {
	// WHAT: every pooled connection has foreign keys and a busy timeout.
	// WHY: pragmas set with Exec only reach one connection of the pool.
	s, err := Open(filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	defer s.Close()
	s.DB.SetMaxIdleConns(0)

	for range 3 {
		var fk, busy int
		require.NoError(t, s.DB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, s.DB.QueryRow("PRAGMA busy_timeout").Scan(&busy))
		assert.Equal(t, 1, fk)
		assert.Equal(t, 10000, busy)
	}
}

func TestOpen_SchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	s, err := Open(path)
	require.NoError(t, err)
	var v int
	require.NoError(t, s.DB.QueryRow("PRAGMA user_version").Scan(&v))
	assert.Equal(t, schemaVersion, v)

	// A database written by a newer release is refused.
	_, err = s.DB.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion+1))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestRunComponents_CascadeOnDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRun(ctx, &Run{ID: "run_c", Status: "completed", Components: []RunComponent{
		{RowIndex: 1, Status: "found_exact"},
	}}))

	_, err := s.DB.Exec(`DELETE FROM runs WHERE id = 'run_c'`)
	require.NoError(t, err)
	var n int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM run_components`).Scan(&n))
	assert.Zero(t, n)
}

func TestInTx_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")
	err := s.inTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO projects (id, created_at, updated_at) VALUES ('x', 1, 1)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.GetProject(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestIsBusy(t *testing.T) {
	assert.False(t, isBusy(nil))
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("no such table: runs")))
}
