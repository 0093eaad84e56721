package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcalc/internal/testutil"
	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:", 0, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newEntity(id, parent string, position int, values map[string]string) *core.Entity {
	v := core.EntityValues{}
	for k, s := range values {
		v[core.FieldKey(k)] = numeric.MustParse(s)
	}
	return &core.Entity{
		ID:       id,
		ParentID: parent,
		Template: "budget_line",
		Name:     id,
		Position: position,
		Values:   v,
	}
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, store.Dialect())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_Migrations(t *testing.T) {
	store := setupTestStore(t)

	version, err := MigrationVersion(store.DB(), DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"entities", "runs"} {
		rows, err := store.DB().Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s should exist", table)
		_ = rows.Close()
	}

	// Migrating again is a no-op.
	require.NoError(t, Migrate(store.DB(), DialectSQLite, nil))
}

func TestSQLiteStore_FilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := OpenSQLite(ctx, path, 0, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveEntity(ctx, newEntity("line-1", "", 0, map[string]string{"quantity": "10"})))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(ctx, path, 0, nil)
	require.NoError(t, err)
	defer store.Close()

	e, err := store.GetEntity(ctx, "line-1")
	require.NoError(t, err)
	assert.Equal(t, "10", e.Values.Get("quantity").String())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		store, err := Open(ctx, Config{Type: "sqlite", Path: ":memory:"}, nil)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, DialectSQLite, store.Dialect())
	})

	t.Run("type missing", func(t *testing.T) {
		_, err := Open(ctx, Config{}, nil)
		assert.ErrorContains(t, err, "store type not specified")
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: "mongo"}, nil)
		var unknown *UnknownBackendError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "mongo", unknown.Type)
		assert.Contains(t, unknown.Available, "sqlite")
		assert.Contains(t, unknown.Available, "postgres")
		assert.Contains(t, err.Error(), "store.type")
	})

	t.Run("sqlite without path", func(t *testing.T) {
		_, err := Open(ctx, Config{Type: "sqlite"}, nil)
		assert.Error(t, err)
	})
}

func TestBackends(t *testing.T) {
	assert.Equal(t, []string{"postgres", "sqlite"}, Backends())
}

func TestSQLiteStore_EntityLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		verify func(t *testing.T, store *SQLStore)
	}{
		{
			name: "save assigns an id and timestamp",
			verify: func(t *testing.T, store *SQLStore) {
				e := newEntity("", "", 0, map[string]string{"quantity": "10"})
				require.NoError(t, store.SaveEntity(ctx, e))
				assert.NotEmpty(t, e.ID)
				assert.False(t, e.UpdatedAt.IsZero())

				got, err := store.GetEntity(ctx, e.ID)
				require.NoError(t, err)
				assert.Equal(t, e.UpdatedAt, got.UpdatedAt)
			},
		},
		{
			name: "values and attributes round trip exactly",
			verify: func(t *testing.T, store *SQLStore) {
				e := newEntity("line-1", "", 3, map[string]string{
					"unit_price":    "0.1",
					"replenishment": "0.15",
					"total_real":    "1265.000000000000001",
				})
				e.Attributes = core.Record{
					"sumable": core.Bool(true),
					"status":  core.String("active"),
					"note":    core.Null(),
				}
				require.NoError(t, store.SaveEntity(ctx, e))

				got, err := store.GetEntity(ctx, "line-1")
				require.NoError(t, err)
				assert.True(t, e.Values.Equal(got.Values), "values: %v", got.Values)
				assert.Equal(t, "1265.000000000000001", got.Values.Get("total_real").String())
				assert.Equal(t, 3, got.Position)
				assert.Equal(t, "budget_line", got.Template)
				assert.True(t, got.Attributes.Get("sumable").Equal(core.Bool(true)))
				assert.True(t, got.Attributes.Get("status").Equal(core.String("active")))
				assert.True(t, got.Attributes.Get("note").IsNull())
				assert.Empty(t, got.ParentID)
			},
		},
		{
			name: "save replaces an existing entity",
			verify: func(t *testing.T, store *SQLStore) {
				require.NoError(t, store.SaveEntity(ctx, newEntity("line-1", "", 0, map[string]string{"quantity": "1"})))
				require.NoError(t, store.SaveEntity(ctx, newEntity("line-1", "", 0, map[string]string{"quantity": "2"})))

				got, err := store.GetEntity(ctx, "line-1")
				require.NoError(t, err)
				assert.Equal(t, "2", got.Values.Get("quantity").String())
			},
		},
		{
			name: "children ordered by position",
			verify: func(t *testing.T, store *SQLStore) {
				require.NoError(t, store.SaveEntity(ctx, newEntity("chapter", "", 0, nil)))
				require.NoError(t, store.SaveEntity(ctx, newEntity("b", "chapter", 2, nil)))
				require.NoError(t, store.SaveEntity(ctx, newEntity("a", "chapter", 1, nil)))
				require.NoError(t, store.SaveEntity(ctx, newEntity("other", "", 0, nil)))

				children, err := store.ListChildren(ctx, "chapter")
				require.NoError(t, err)
				require.Len(t, children, 2)
				assert.Equal(t, "a", children[0].ID)
				assert.Equal(t, "b", children[1].ID)
				assert.Equal(t, "chapter", children[0].ParentID)

				none, err := store.ListChildren(ctx, "a")
				require.NoError(t, err)
				assert.Empty(t, none)
			},
		},
		{
			name: "list by template",
			verify: func(t *testing.T, store *SQLStore) {
				require.NoError(t, store.SaveEntity(ctx, newEntity("l1", "", 0, nil)))
				chapter := newEntity("c1", "", 0, nil)
				chapter.Template = "chapter"
				require.NoError(t, store.SaveEntity(ctx, chapter))

				lines, err := store.ListByTemplate(ctx, "budget_line")
				require.NoError(t, err)
				require.Len(t, lines, 1)
				assert.Equal(t, "l1", lines[0].ID)
			},
		},
		{
			name: "get missing entity",
			verify: func(t *testing.T, store *SQLStore) {
				_, err := store.GetEntity(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "invalid entities are rejected",
			verify: func(t *testing.T, store *SQLStore) {
				assert.Error(t, store.SaveEntity(ctx, nil))
				assert.Error(t, store.SaveEntity(ctx, &core.Entity{ID: "x"}))
				assert.Error(t, store.SaveEntity(ctx, newEntity("x", "x", 0, nil)))
			},
		},
		{
			name: "delete removes entity and runs",
			verify: func(t *testing.T, store *SQLStore) {
				require.NoError(t, store.SaveEntity(ctx, newEntity("line-1", "", 0, nil)))
				run, err := store.CreateRun(ctx, "line-1", core.RunModeFull, nil)
				require.NoError(t, err)

				require.NoError(t, store.DeleteEntity(ctx, "line-1"))
				_, err = store.GetEntity(ctx, "line-1")
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = store.GetRun(ctx, run.ID)
				assert.ErrorIs(t, err, ErrNotFound)

				assert.ErrorIs(t, store.DeleteEntity(ctx, "line-1"), ErrNotFound)
			},
		},
		{
			name: "delete refuses entities with children",
			verify: func(t *testing.T, store *SQLStore) {
				require.NoError(t, store.SaveEntity(ctx, newEntity("chapter", "", 0, nil)))
				require.NoError(t, store.SaveEntity(ctx, newEntity("line", "chapter", 0, nil)))

				assert.ErrorIs(t, store.DeleteEntity(ctx, "chapter"), ErrHasChildren)
				_, err := store.GetEntity(ctx, "chapter")
				assert.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.verify(t, setupTestStore(t))
		})
	}
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		verify func(t *testing.T, store *SQLStore)
	}{
		{
			name: "create run",
			verify: func(t *testing.T, store *SQLStore) {
				run, err := store.CreateRun(ctx, "line-1", core.RunModeIncremental, []core.FieldKey{"quantity"})
				require.NoError(t, err)
				assert.NotEmpty(t, run.ID)
				assert.Equal(t, core.RunStatusRunning, run.Status)
				assert.Nil(t, run.CompletedAt)

				got, err := store.GetRun(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, "line-1", got.EntityID)
				assert.Equal(t, core.RunModeIncremental, got.Mode)
				assert.Equal(t, []core.FieldKey{"quantity"}, got.Changed)
				assert.Equal(t, run.StartedAt, got.StartedAt)
				assert.Nil(t, got.CompletedAt)
				assert.Empty(t, got.Errors)
			},
		},
		{
			name: "complete run with errors",
			verify: func(t *testing.T, store *SQLStore) {
				run, err := store.CreateRun(ctx, "line-1", core.RunModeFull, nil)
				require.NoError(t, err)

				errs := []core.FieldError{{
					Kind:         core.ErrorKindCycle,
					Field:        "a",
					Message:      "circular dependency: a -> b -> a",
					Dependencies: []core.FieldKey{"a", "b"},
				}}
				require.NoError(t, store.CompleteRun(ctx, run.ID, core.RunStatusFailed, errs))

				got, err := store.GetRun(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, core.RunStatusFailed, got.Status)
				require.NotNil(t, got.CompletedAt)
				assert.Equal(t, errs, got.Errors)
				assert.Nil(t, got.Changed)
			},
		},
		{
			name: "latest run",
			verify: func(t *testing.T, store *SQLStore) {
				var last *core.Run
				for range 3 {
					run, err := store.CreateRun(ctx, "line-1", core.RunModeFull, nil)
					require.NoError(t, err)
					last = run
				}
				_, err := store.CreateRun(ctx, "other", core.RunModeFull, nil)
				require.NoError(t, err)

				got, err := store.GetLatestRun(ctx, "line-1")
				require.NoError(t, err)
				assert.Equal(t, last.ID, got.ID)
			},
		},
		{
			name: "missing runs",
			verify: func(t *testing.T, store *SQLStore) {
				_, err := store.GetRun(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = store.GetLatestRun(ctx, "line-1")
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, store.CompleteRun(ctx, "nope", core.RunStatusSucceeded, nil), ErrNotFound)
			},
		},
		{
			name: "runs require an existing entity",
			verify: func(t *testing.T, store *SQLStore) {
				_, err := store.CreateRun(ctx, "ghost", core.RunModeFull, nil)
				assert.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			require.NoError(t, store.SaveEntity(ctx, newEntity("line-1", "", 0, nil)))
			require.NoError(t, store.SaveEntity(ctx, newEntity("other", "", 1, nil)))
			tt.verify(t, store)
		})
	}
}

func TestSQLStore_NotOpened(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(nil, DialectSQLite, nil)

	assert.ErrorIs(t, store.SaveEntity(ctx, newEntity("a", "", 0, nil)), ErrNotOpened)
	_, err := store.GetEntity(ctx, "a")
	assert.ErrorIs(t, err, ErrNotOpened)
	_, err = store.CreateRun(ctx, "a", core.RunModeFull, nil)
	assert.ErrorIs(t, err, ErrNotOpened)
	assert.NoError(t, store.Close())
}
