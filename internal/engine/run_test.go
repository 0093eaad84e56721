package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcalc/internal/loader"
	"github.com/leapstack-labs/leapcalc/internal/state"
	"github.com/leapstack-labs/leapcalc/internal/testutil"
	"github.com/leapstack-labs/leapcalc/pkg/core"
)

func chapterSchema() *core.FieldSchema {
	return core.MustFieldSchema("chapter", []core.Field{
		{Key: "subtotal", Role: core.RoleComputed, Formula: "SUM(children.total)"},
		{Key: "sumable_total", Role: core.RoleComputed, Formula: "SUM(children.total WHERE sumable == true)"},
		{Key: "lines", Role: core.RoleComputed, Formula: "COUNT(children)"},
		{Key: "total", Role: core.RoleComputed, Formula: "subtotal"},
	})
}

func setupRunner(t *testing.T, schemas ...*core.FieldSchema) (*Runner, *state.SQLStore) {
	t.Helper()
	logger := testutil.NewTestLogger(t)

	store, err := state.OpenSQLite(context.Background(), ":memory:", 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	catalog, err := loader.NewCatalog(schemas...)
	require.NoError(t, err)

	return NewRunner(New(Config{Logger: logger}), store, catalog, logger), store
}

func saveEntity(t *testing.T, store core.Store, e *core.Entity) {
	t.Helper()
	require.NoError(t, store.SaveEntity(context.Background(), e))
}

// seedChapter stores a chapter with two budget lines: line-1 uses the default
// inputs (total 1265), line-2 totals 100 and is not sumable.
func seedChapter(t *testing.T, store core.Store) {
	t.Helper()
	saveEntity(t, store, &core.Entity{ID: "chapter", Template: "chapter"})
	saveEntity(t, store, &core.Entity{
		ID: "line-1", ParentID: "chapter", Template: "budget_line", Position: 1,
		Values:     budgetLineValues(),
		Attributes: core.Record{"sumable": core.Bool(true)},
	})
	saveEntity(t, store, &core.Entity{
		ID: "line-2", ParentID: "chapter", Template: "budget_line", Position: 2,
		Values: core.EntityValues{
			"real_quantity": d("1"),
			"waste_pct":     d("0"),
			"real_price":    d("100"),
			"fee_pct":       d("0"),
		},
		Attributes: core.Record{"sumable": core.Bool(false)},
	})
}

func TestRunner_Recompute_PersistsAndRollsUp(t *testing.T) {
	ctx := context.Background()
	runner, store := setupRunner(t, budgetLineSchema(t), chapterSchema())
	seedChapter(t, store)

	res, err := runner.Recompute(ctx, "line-1", nil, RecomputeOptions{})
	require.NoError(t, err)
	require.True(t, res.Success(), "errors: %v", res.Result.Errors)
	assert.Equal(t, core.RunModeFull, res.Mode)
	require.NotNil(t, res.Run)
	assert.Equal(t, core.RunStatusSucceeded, res.Run.Status)
	assert.NotNil(t, res.Run.CompletedAt)

	line, err := store.GetEntity(ctx, "line-1")
	require.NoError(t, err)
	assertValue(t, line.Values, "total", "1265")
	assertValue(t, line.Values, "real_quantity", "10")

	require.Len(t, res.Ancestors, 1)
	assert.Equal(t, "chapter", res.Ancestors[0].Entity.ID)

	// line-2 has not been computed yet, so it contributes nothing.
	chapter, err := store.GetEntity(ctx, "chapter")
	require.NoError(t, err)
	assertValue(t, chapter.Values, "subtotal", "1265")
	assertValue(t, chapter.Values, "lines", "2")

	_, err = runner.Recompute(ctx, "line-2", nil, RecomputeOptions{})
	require.NoError(t, err)

	chapter, err = store.GetEntity(ctx, "chapter")
	require.NoError(t, err)
	assertValue(t, chapter.Values, "subtotal", "1365")
	assertValue(t, chapter.Values, "sumable_total", "1265")
	assertValue(t, chapter.Values, "total", "1365")
}

func TestRunner_Recompute_Incremental(t *testing.T) {
	ctx := context.Background()
	runner, store := setupRunner(t, budgetLineSchema(t), chapterSchema())
	seedChapter(t, store)

	_, err := runner.Recompute(ctx, "line-1", nil, RecomputeOptions{NoRollUp: true})
	require.NoError(t, err)

	line, err := store.GetEntity(ctx, "line-1")
	require.NoError(t, err)
	line.Values["real_price"] = d("200")
	saveEntity(t, store, line)

	res, err := runner.Recompute(ctx, "line-1", []core.FieldKey{"real_price"}, RecomputeOptions{NoRollUp: true})
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, core.RunModeIncremental, res.Mode)
	assert.Equal(t, []core.FieldKey{"real_price"}, res.Run.Changed)
	assert.NotContains(t, res.Result.Evaluated, core.FieldKey("quantity"))
	assert.Contains(t, res.Result.Evaluated, core.FieldKey("unit_price"))
	assert.Empty(t, res.Ancestors)

	line, err = store.GetEntity(ctx, "line-1")
	require.NoError(t, err)
	assertValue(t, line.Values, "unit_price", "230")
	assertValue(t, line.Values, "total", "2530")
	assertValue(t, line.Values, "total_real", "2000")

	// NoRollUp left the chapter untouched.
	chapter, err := store.GetEntity(ctx, "chapter")
	require.NoError(t, err)
	assert.Empty(t, chapter.Values)
}

func TestRunner_Recompute_FailureIsRecordedNotPersisted(t *testing.T) {
	ctx := context.Background()
	broken := core.MustFieldSchema("broken", []core.Field{
		{Key: "a", Role: core.RoleComputed, Formula: "b + 1"},
		{Key: "b", Role: core.RoleComputed, Formula: "a + 1"},
	})
	runner, store := setupRunner(t, broken, chapterSchema())
	saveEntity(t, store, &core.Entity{ID: "chapter", Template: "chapter"})
	saveEntity(t, store, &core.Entity{
		ID: "x", ParentID: "chapter", Template: "broken",
		Values: core.EntityValues{"a": d("7")},
	})

	res, err := runner.Recompute(ctx, "x", nil, RecomputeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success())
	require.NotEmpty(t, res.Result.Errors)
	assert.Equal(t, core.ErrorKindCycle, res.Result.Errors[0].Kind)
	assert.Empty(t, res.Ancestors, "failed computations are not rolled up")

	require.NotNil(t, res.Run)
	assert.Equal(t, core.RunStatusFailed, res.Run.Status)
	assert.Equal(t, res.Result.Errors, res.Run.Errors)

	stored, err := store.GetEntity(ctx, "x")
	require.NoError(t, err)
	assertValue(t, stored.Values, "a", "7")

	latest, err := store.GetLatestRun(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, res.Run.ID, latest.ID)
}

// failingStore fails writes on demand.
type failingStore struct {
	core.Store
	saveErr     error
	completeErr error
}

func (s *failingStore) SaveEntity(ctx context.Context, e *core.Entity) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.SaveEntity(ctx, e)
}

func (s *failingStore) CompleteRun(ctx context.Context, id string, status core.RunStatus, errs []core.FieldError) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.Store.CompleteRun(ctx, id, status, errs)
}

func TestRunner_Recompute_SaveFailure(t *testing.T) {
	tests := []struct {
		name        string
		completeErr error
		wantMsgs    []string
		wantStatus  core.RunStatus
	}{
		{
			name:       "run marked failed",
			wantMsgs:   []string{"failed to save entity line-1", "disk full"},
			wantStatus: core.RunStatusFailed,
		},
		{
			name:        "run completion also fails",
			completeErr: errors.New("database is locked"),
			wantMsgs:    []string{"failed to save entity line-1", "disk full", "failed to complete run", "database is locked"},
			wantStatus:  core.RunStatusRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			_, store := setupRunner(t)
			seedChapter(t, store)

			logger := testutil.NewTestLogger(t)
			catalog, err := loader.NewCatalog(budgetLineSchema(t), chapterSchema())
			require.NoError(t, err)
			saveErr := errors.New("disk full")
			fs := &failingStore{Store: store, saveErr: saveErr, completeErr: tt.completeErr}
			runner := NewRunner(New(Config{Logger: logger}), fs, catalog, logger)

			res, err := runner.Recompute(ctx, "line-1", nil, RecomputeOptions{})
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, saveErr)
			if tt.completeErr != nil {
				assert.ErrorIs(t, err, tt.completeErr)
			}
			for _, msg := range tt.wantMsgs {
				assert.Contains(t, err.Error(), msg)
			}

			latest, err := store.GetLatestRun(ctx, "line-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, latest.Status)
		})
	}
}

func TestRunner_Recompute_DryRun(t *testing.T) {
	ctx := context.Background()
	runner, store := setupRunner(t, budgetLineSchema(t), chapterSchema())
	seedChapter(t, store)

	res, err := runner.Recompute(ctx, "line-1", nil, RecomputeOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.Success())
	assertValue(t, res.Result.Values, "total", "1265")
	assert.Nil(t, res.Run)
	assert.Empty(t, res.Ancestors)

	line, err := store.GetEntity(ctx, "line-1")
	require.NoError(t, err)
	_, computed := line.Values["total"]
	assert.False(t, computed, "dry run must not persist values")

	_, err = store.GetLatestRun(ctx, "line-1")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRunner_Recompute_Siblings(t *testing.T) {
	ctx := context.Background()
	part := core.MustFieldSchema("part", []core.Field{
		{Key: "value"},
		{Key: "others", Role: core.RoleComputed, Formula: "SUM(siblings.value)"},
		{Key: "peers", Role: core.RoleComputed, Formula: "COUNT(siblings)"},
	})
	runner, store := setupRunner(t, part)

	// The parent uses a template the runner does not know: roll-up stops there.
	saveEntity(t, store, &core.Entity{ID: "group", Template: "legacy"})
	for i, v := range []string{"1", "2", "3"} {
		saveEntity(t, store, &core.Entity{
			ID: "part-" + v, ParentID: "group", Template: "part", Position: i,
			Values: core.EntityValues{"value": d(v)},
		})
	}

	res, err := runner.Recompute(ctx, "part-1", nil, RecomputeOptions{})
	require.NoError(t, err)
	require.True(t, res.Success(), "errors: %v", res.Result.Errors)
	assertValue(t, res.Result.Values, "others", "5")
	assertValue(t, res.Result.Values, "peers", "2")
	assert.Empty(t, res.Ancestors)
}

func TestRunner_Recompute_Errors(t *testing.T) {
	ctx := context.Background()
	runner, store := setupRunner(t, budgetLineSchema(t))

	t.Run("missing entity", func(t *testing.T) {
		_, err := runner.Recompute(ctx, "ghost", nil, RecomputeOptions{})
		assert.ErrorIs(t, err, state.ErrNotFound)
	})

	t.Run("unknown template", func(t *testing.T) {
		saveEntity(t, store, &core.Entity{ID: "odd", Template: "nope"})
		_, err := runner.Recompute(ctx, "odd", nil, RecomputeOptions{})
		var unknown *UnknownTemplateError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "nope", unknown.Template)
	})
}

func TestRunner_RecomputeAll(t *testing.T) {
	ctx := context.Background()
	runner, store := setupRunner(t, budgetLineSchema(t), chapterSchema())

	saveEntity(t, store, &core.Entity{ID: "root", Template: "chapter"})
	saveEntity(t, store, &core.Entity{ID: "sub", ParentID: "root", Template: "chapter"})
	saveEntity(t, store, &core.Entity{
		ID: "line", ParentID: "sub", Template: "budget_line",
		Values: budgetLineValues(),
	})

	lines, err := runner.RecomputeAll(ctx, "budget_line", RecomputeOptions{})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Success())
	assert.Empty(t, lines[0].Ancestors)

	chapters, err := runner.RecomputeAll(ctx, "chapter", RecomputeOptions{})
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, "sub", chapters[0].Entity.ID, "children are computed before parents")
	assert.Equal(t, "root", chapters[1].Entity.ID)

	root, err := store.GetEntity(ctx, "root")
	require.NoError(t, err)
	assertValue(t, root.Values, "subtotal", "1265")
	assertValue(t, root.Values, "lines", "1")

	_, err = runner.RecomputeAll(ctx, "nope", RecomputeOptions{})
	var unknown *UnknownTemplateError
	assert.ErrorAs(t, err, &unknown)
}

func TestRunner_RecomputeAll_Cancelled(t *testing.T) {
	runner, store := setupRunner(t, budgetLineSchema(t))
	saveEntity(t, store, &core.Entity{ID: "line", Template: "budget_line", Values: budgetLineValues()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := runner.RecomputeAll(ctx, "budget_line", RecomputeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
