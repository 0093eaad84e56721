package state

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Migrate runs all pending migrations of dialect ("sqlite" or "postgres") against db.
func Migrate(db *sql.DB, dialect string, logger *slog.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, err := configureGoose(dialect, logger)
	if err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version of db.
func MigrationVersion(db *sql.DB, dialect string) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if _, err := configureGoose(dialect, nil); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}

func configureGoose(dialect string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger})

	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("failed to set dialect: %w", err)
	}
	return path.Join("migrations", dialect), nil
}

// gooseLogger routes goose progress messages to slog at debug level.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}
