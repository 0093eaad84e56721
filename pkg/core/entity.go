package core

import (
	"encoding/json"
	"time"
)

// Entity is a persisted budget-line-like record: numeric field values plus
// non-numeric attributes (flags such as "sumable" or labels) used by aggregation predicates.
type Entity struct {
	ID         string       `json:"id" yaml:"id"`
	ParentID   string       `json:"parent_id,omitempty" yaml:"parent_id"`
	Template   string       `json:"template" yaml:"template"`
	Name       string       `json:"name,omitempty" yaml:"name"`
	Position   int          `json:"position" yaml:"position"`
	Values     EntityValues `json:"values" yaml:"values"`
	Attributes Record       `json:"attributes,omitempty" yaml:"-"`
	UpdatedAt  time.Time    `json:"updated_at" yaml:"-"`
}

// Record returns the entity as a collection member: every numeric value as a number,
// overlaid with its attributes.
func (e *Entity) Record() Record {
	rec := make(Record, len(e.Values)+len(e.Attributes))
	for k, v := range e.Values {
		rec[k] = Number(v)
	}
	for k, v := range e.Attributes {
		rec[k] = v
	}
	return rec
}

// RunMode is the computation mode of a run.
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

// RunStatus represents the status of a computation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one computation of one entity. Failed runs keep their errors so the
// surrounding application can show them next to the offending fields.
type Run struct {
	ID          string       `json:"id"`
	EntityID    string       `json:"entity_id"`
	Mode        RunMode      `json:"mode"`
	Status      RunStatus    `json:"status"`
	Changed     []FieldKey   `json:"changed,omitempty"`
	Errors      []FieldError `json:"errors,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// EncodeJSON is a helper for stores that keep structured columns as JSON text.
func EncodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
