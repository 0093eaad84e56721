package state

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcalc/pkg/core"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name: "basic connection",
			config: Config{
				Host:     "localhost",
				Port:     5432,
				Database: "budget",
				User:     "user",
				Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=budget sslmode=disable user=user password=pass",
		},
		{
			name: "with custom sslmode and options",
			config: Config{
				Host:     "prod.example.com",
				Database: "budget",
				User:     "admin",
				Options:  map[string]string{"sslmode": "require", "connect_timeout": "5", "application_name": "leapcalc"},
			},
			expected: "host=prod.example.com port=5432 dbname=budget sslmode=require user=admin application_name=leapcalc connect_timeout=5",
		},
		{
			name:     "defaults",
			config:   Config{Database: "budget"},
			expected: "host=localhost port=5432 dbname=budget sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildPostgresDSN(tt.config))
		})
	}
}

func TestOpenPostgres_RequiresDatabase(t *testing.T) {
	_, err := OpenPostgres(context.Background(), Config{Type: "postgres"}, nil)
	assert.ErrorContains(t, err, "database not specified")
}

func TestSQLStore_Rebind(t *testing.T) {
	tests := []struct {
		dialect  string
		query    string
		expected string
	}{
		{DialectPostgres, "SELECT * FROM runs WHERE id = ? AND status = ?", "SELECT * FROM runs WHERE id = $1 AND status = $2"},
		{DialectPostgres, "SELECT 1", "SELECT 1"},
		{DialectSQLite, "SELECT * FROM runs WHERE id = ?", "SELECT * FROM runs WHERE id = ?"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect+" "+tt.query, func(t *testing.T) {
			s := NewSQLStore(nil, tt.dialect, nil)
			assert.Equal(t, tt.expected, s.rebind(tt.query))
		})
	}
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, DialectPostgres, nil), mock
}

var entityRowColumns = []string{"id", "parent_id", "template", "name", "position", "values_json", "attributes_json", "updated_at"}

func TestPostgresStore_GetEntity(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("FROM entities WHERE id = $1")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		verify    func(t *testing.T, e *core.Entity, err error)
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("line-1").WillReturnRows(
					sqlmock.NewRows(entityRowColumns).AddRow(
						"line-1", "chapter", "budget_line", "Concrete", 2,
						`{"quantity":"10","unit_price":"0.1"}`, `{"sumable":true}`, int64(1700000000000)))
			},
			verify: func(t *testing.T, e *core.Entity, err error) {
				require.NoError(t, err)
				assert.Equal(t, "chapter", e.ParentID)
				assert.Equal(t, "Concrete", e.Name)
				assert.Equal(t, 2, e.Position)
				assert.Equal(t, "0.1", e.Values.Get("unit_price").String())
				assert.True(t, e.Attributes.Get("sumable").Equal(core.Bool(true)))
				assert.Equal(t, int64(1700000000000), e.UpdatedAt.UnixMilli())
			},
		},
		{
			name: "root entity",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("line-1").WillReturnRows(
					sqlmock.NewRows(entityRowColumns).AddRow(
						"line-1", nil, "budget_line", "", 0, `{}`, `{}`, int64(0)))
			},
			verify: func(t *testing.T, e *core.Entity, err error) {
				require.NoError(t, err)
				assert.Empty(t, e.ParentID)
				assert.Empty(t, e.Values)
				assert.Nil(t, e.Attributes)
			},
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("line-1").WillReturnRows(sqlmock.NewRows(entityRowColumns))
			},
			verify: func(t *testing.T, _ *core.Entity, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "corrupt values",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("line-1").WillReturnRows(
					sqlmock.NewRows(entityRowColumns).AddRow(
						"line-1", nil, "budget_line", "", 0, `{"quantity":"ten"}`, `{}`, int64(0)))
			},
			verify: func(t *testing.T, _ *core.Entity, err error) {
				assert.ErrorContains(t, err, "invalid values")
			},
		},
		{
			name: "query error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs("line-1").WillReturnError(assert.AnError)
			},
			verify: func(t *testing.T, _ *core.Entity, err error) {
				assert.ErrorIs(t, err, assert.AnError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			e, err := store.GetEntity(ctx, "line-1")
			tt.verify(t, e, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_SaveEntity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).
		WithArgs("line-1", "chapter", "budget_line", "", 0,
			`{}`, `{}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &core.Entity{ID: "line-1", ParentID: "chapter", Template: "budget_line"}
	require.NoError(t, store.SaveEntity(context.Background(), e))
	assert.False(t, e.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun(t *testing.T) {
	query := regexp.QuoteMeta("UPDATE runs SET status = $1, errors_json = $2, completed_at = $3 WHERE id = $4")

	t.Run("completed", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(query).
			WithArgs("succeeded", "[]", sqlmock.AnyArg(), "run-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.CompleteRun(context.Background(), "run-1", core.RunStatusSucceeded, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown run", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(query).
			WithArgs("failed", sqlmock.AnyArg(), sqlmock.AnyArg(), "run-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.CompleteRun(context.Background(), "run-1", core.RunStatusFailed, []core.FieldError{{Field: "a", Message: "boom"}})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_GetLatestRun(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE entity_id = $1 ORDER BY seq DESC LIMIT 1")).
		WithArgs("line-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_id", "mode", "status", "changed_json", "errors_json", "started_at", "completed_at"}).
			AddRow("run-2", "line-1", "incremental", "failed", `["quantity"]`,
				`[{"kind":"evaluation","field":"total","message":"division by zero"}]`,
				int64(1700000000000), int64(1700000000500)))

	run, err := store.GetLatestRun(context.Background(), "line-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", run.ID)
	assert.Equal(t, core.RunModeIncremental, run.Mode)
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.Equal(t, []core.FieldKey{"quantity"}, run.Changed)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, core.ErrorKindEvaluation, run.Errors[0].Kind)
	assert.Equal(t, core.FieldKey("total"), run.Errors[0].Field)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, int64(500), run.CompletedAt.Sub(run.StartedAt).Milliseconds())
	assert.NoError(t, mock.ExpectationsWereMet())
}
