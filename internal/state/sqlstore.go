package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// Dialects understood by SQLStore.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore implements core.Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

var _ core.Store = (*SQLStore)(nil)

// NewSQLStore wraps an open, migrated database. Queries are written with "?"
// placeholders and rebound for the PostgreSQL dialect.
func NewSQLStore(db *sql.DB, dialect string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL dialect of the store.
func (s *SQLStore) Dialect() string { return s.dialect }

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites "?" placeholders as "$1", "$2", ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// --- Entity operations ---

const entityColumns = `id, parent_id, template, name, position, values_json, attributes_json, updated_at`

// SaveEntity inserts or replaces an entity. An empty ID is assigned a new UUID;
// UpdatedAt is set to the save time.
func (s *SQLStore) SaveEntity(ctx context.Context, e *core.Entity) error {
	if s.db == nil {
		return ErrNotOpened
	}
	if e == nil {
		return fmt.Errorf("entity is nil")
	}
	if e.Template == "" {
		return fmt.Errorf("entity %q: template is required", e.ID)
	}
	if e.ID == "" {
		e.ID = generateID()
	}
	if e.ParentID == e.ID {
		return fmt.Errorf("entity %s cannot be its own parent", e.ID)
	}

	values := e.Values
	if values == nil {
		values = core.EntityValues{}
	}
	valuesJSON, err := core.EncodeJSON(values)
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	attrs := e.Attributes
	if attrs == nil {
		attrs = core.Record{}
	}
	attrsJSON, err := core.EncodeJSON(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)

	s.logger.Debug("saving entity",
		slog.String("id", e.ID),
		slog.String("template", e.Template),
		slog.String("parent_id", e.ParentID))

	_, err = s.exec(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = excluded.parent_id,
			template = excluded.template,
			name = excluded.name,
			position = excluded.position,
			values_json = excluded.values_json,
			attributes_json = excluded.attributes_json,
			updated_at = excluded.updated_at`,
		e.ID, nullString(e.ParentID), e.Template, e.Name, e.Position,
		valuesJSON, attrsJSON, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save entity %s: %w", e.ID, err)
	}
	e.UpdatedAt = now
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *SQLStore) GetEntity(ctx context.Context, id string) (*core.Entity, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	row := s.queryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// ListChildren returns the direct children of an entity ordered by position.
func (s *SQLStore) ListChildren(ctx context.Context, parentID string) ([]*core.Entity, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	return s.listEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE parent_id = ? ORDER BY position, name, id`,
		parentID)
}

// ListByTemplate returns every entity of a template ordered by position.
func (s *SQLStore) ListByTemplate(ctx context.Context, template string) ([]*core.Entity, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	return s.listEntities(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE template = ? ORDER BY position, name, id`,
		template)
}

func (s *SQLStore) listEntities(ctx context.Context, query string, args ...any) ([]*core.Entity, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []*core.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// DeleteEntity removes an entity and its runs. Entities with children are
// not deleted.
func (s *SQLStore) DeleteEntity(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotOpened
	}

	var children int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM entities WHERE parent_id = ?`, id).Scan(&children); err != nil {
		return fmt.Errorf("failed to count children: %w", err)
	}
	if children > 0 {
		return fmt.Errorf("entity %s: %w (%d)", id, ErrHasChildren, children)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE entity_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM entities WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("deleted entity", slog.String("id", id))
	return nil
}

// --- Run operations ---

const runColumns = `id, entity_id, mode, status, changed_json, errors_json, started_at, completed_at`

// CreateRun records the start of a computation.
func (s *SQLStore) CreateRun(ctx context.Context, entityID string, mode core.RunMode, changed []core.FieldKey) (*core.Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	if changed == nil {
		changed = []core.FieldKey{}
	}
	changedJSON, err := core.EncodeJSON(changed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode changed fields: %w", err)
	}

	run := &core.Run{
		ID:        generateID(),
		EntityID:  entityID,
		Mode:      mode,
		Status:    core.RunStatusRunning,
		Changed:   changed,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if len(run.Changed) == 0 {
		run.Changed = nil
	}

	s.logger.Debug("creating run",
		slog.String("id", run.ID),
		slog.String("entity_id", entityID),
		slog.String("mode", string(mode)))

	_, err = s.exec(ctx, `
		INSERT INTO runs (id, entity_id, mode, status, changed_json, errors_json, started_at, seq)
		VALUES (?, ?, ?, ?, ?, '[]', ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))`,
		run.ID, entityID, string(mode), string(run.Status), changedJSON, run.StartedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as completed with the given status and errors.
func (s *SQLStore) CompleteRun(ctx context.Context, id string, status core.RunStatus, errs []core.FieldError) error {
	if s.db == nil {
		return ErrNotOpened
	}

	if errs == nil {
		errs = []core.FieldError{}
	}
	errsJSON, err := core.EncodeJSON(errs)
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}

	res, err := s.exec(ctx,
		`UPDATE runs SET status = ?, errors_json = ?, completed_at = ? WHERE id = ?`,
		string(status), errsJSON, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	run, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetLatestRun retrieves the most recent run of an entity.
func (s *SQLStore) GetLatestRun(ctx context.Context, entityID string) (*core.Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	run, err := scanRun(s.queryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE entity_id = ? ORDER BY seq DESC LIMIT 1`, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no runs for entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// --- scanning ---

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*core.Entity, error) {
	var (
		e          core.Entity
		parentID   sql.NullString
		valuesJSON string
		attrsJSON  string
		updatedAt  int64
	)
	if err := row.Scan(&e.ID, &parentID, &e.Template, &e.Name, &e.Position,
		&valuesJSON, &attrsJSON, &updatedAt); err != nil {
		return nil, err
	}

	e.ParentID = parentID.String
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	e.Values = core.EntityValues{}
	if err := json.Unmarshal([]byte(valuesJSON), &e.Values); err != nil {
		return nil, fmt.Errorf("entity %s: invalid values: %w", e.ID, err)
	}
	if attrsJSON != "" && attrsJSON != "{}" {
		if err := json.Unmarshal([]byte(attrsJSON), &e.Attributes); err != nil {
			return nil, fmt.Errorf("entity %s: invalid attributes: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanRun(row scanner) (*core.Run, error) {
	var (
		run         core.Run
		mode        string
		status      string
		changedJSON string
		errorsJSON  string
		startedAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&run.ID, &run.EntityID, &mode, &status, &changedJSON, &errorsJSON,
		&startedAt, &completedAt); err != nil {
		return nil, err
	}

	run.Mode = core.RunMode(mode)
	run.Status = core.RunStatus(status)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(changedJSON), &run.Changed); err != nil {
		return nil, fmt.Errorf("run %s: invalid changed fields: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
		return nil, fmt.Errorf("run %s: invalid errors: %w", run.ID, err)
	}
	if len(run.Changed) == 0 {
		run.Changed = nil
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
