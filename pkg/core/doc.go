// Package core defines the shared language of the leapcalc system.
//
// This package contains:
//   - Field schema types (FieldKey, FieldRole, Field, FieldSchema)
//   - Computation values and results (EntityValues, Value, Record, ComputationResult)
//   - Persisted entities and computation runs (Entity, Run)
//   - Service interfaces (Store)
//
// The Golden Rule: pkg/core imports ONLY pkg/token, pkg/numeric and stdlib.
// All other packages depend on core, not the reverse.
package core
