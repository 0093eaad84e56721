package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultBusyTimeout is used when no SQLite busy timeout is configured.
const DefaultBusyTimeout = 5 * time.Second

func init() {
	Register(DialectSQLite, func(ctx context.Context, cfg Config, logger *slog.Logger) (*SQLStore, error) {
		return OpenSQLite(ctx, cfg.Path, cfg.BusyTimeout, logger)
	})
}

// OpenSQLite opens (creating if needed) the SQLite database at path and migrates it.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite store path not specified")
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	logger.Debug("opening sqlite store", slog.String("path", path))

	db, err := sql.Open("sqlite", sqliteDSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if memory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := Migrate(db, DialectSQLite, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLStore(db, DialectSQLite, logger), nil
}

func sqliteDSN(path string, busyTimeout time.Duration) string {
	pragmas := fmt.Sprintf("_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", busyTimeout.Milliseconds())
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
}
