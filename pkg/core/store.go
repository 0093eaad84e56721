package core

import "context"

// Store persists entities, their hierarchy and computation runs.
type Store interface {
	Close() error

	// Entity operations
	SaveEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	ListChildren(ctx context.Context, parentID string) ([]*Entity, error)
	ListByTemplate(ctx context.Context, template string) ([]*Entity, error)
	DeleteEntity(ctx context.Context, id string) error

	// Run operations
	CreateRun(ctx context.Context, entityID string, mode RunMode, changed []FieldKey) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, errs []FieldError) error
	GetRun(ctx context.Context, id string) (*Run, error)
	GetLatestRun(ctx context.Context, entityID string) (*Run, error)
}
