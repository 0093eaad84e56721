// Package state persists entities and computation runs.
//
// Backends register themselves by name ("sqlite", "postgres") and share one
// SQL implementation of core.Store; only the driver, the DSN and the
// placeholder style differ. Schemas are managed with embedded goose migrations.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an entity or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrHasChildren is returned when deleting an entity that still has children.
	ErrHasChildren = errors.New("entity has children")
	// ErrNotOpened is returned when the store has no database connection.
	ErrNotOpened = errors.New("database not opened")
)

// Config selects and configures a store backend.
type Config struct {
	Type string `koanf:"type"`

	// SQLite
	Path        string        `koanf:"path"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`

	// PostgreSQL
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Database string            `koanf:"database"`
	Options  map[string]string `koanf:"options"`
}

// Opener opens a migrated store for a backend.
type Opener func(ctx context.Context, cfg Config, logger *slog.Logger) (*SQLStore, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register adds a backend to the registry. Backends call it from init().
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the store selected by cfg.Type and applies pending migrations.
// A nil logger discards output.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Type == "" {
		return nil, fmt.Errorf("store type not specified")
	}

	registryMu.RLock()
	open, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownBackendError{Type: cfg.Type, Available: Backends()}
	}
	return open(ctx, cfg, logger)
}

// UnknownBackendError is returned when an unknown store type is requested.
type UnknownBackendError struct {
	Type      string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown store type %q\nAvailable stores: %v\nHint: Check your store.type in leapcalc.yaml", e.Type, e.Available)
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}
