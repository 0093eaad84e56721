// Package engine computes the derived fields of budget entities.
// It builds dependency plans from field schemas, evaluates formulas in
// topological order, and recomputes incrementally from a changed-field set.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/formula"
)

// Engine computes entities with plans cached per schema. It is safe for concurrent use.
type Engine struct {
	// Structured logger
	logger *slog.Logger

	evaluator Evaluator
	workers   int

	plans sync.Map // schema fingerprint -> *Plan
}

// Config holds engine configuration.
type Config struct {
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
	// Evaluator evaluates formulas (optional, a formula.Evaluator if nil)
	Evaluator Evaluator
	// Precision is the number of fractional digits kept by division when the
	// default evaluator is used. Zero or less means formula's default.
	Precision int32
	// Workers bounds ComputeBatch parallelism. Zero or less means GOMAXPROCS.
	Workers int
}

// New creates a new engine.
func New(cfg Config) *Engine {
	// Initialize logger (use discard handler if nil)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ev := cfg.Evaluator
	if ev == nil {
		var opts []formula.Option
		if cfg.Precision > 0 {
			opts = append(opts, formula.WithDivisionPrecision(cfg.Precision))
		}
		ev = formula.NewEvaluator(opts...)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	logger.Debug("initializing engine", "workers", workers)

	return &Engine{
		logger:    logger,
		evaluator: ev,
		workers:   workers,
	}
}

// Plan returns the cached plan of schema, building it on first use.
func (e *Engine) Plan(schema *core.FieldSchema) *Plan {
	key := schema.Fingerprint()
	if p, ok := e.plans.Load(key); ok {
		return p.(*Plan)
	}

	p := NewPlan(schema)
	if p.Order.Cycles != nil {
		e.logger.Warn("schema has circular dependencies",
			"schema", schema.Name(), "cycles", len(p.Order.Cycles))
	}
	actual, loaded := e.plans.LoadOrStore(key, p)
	if !loaded {
		e.logger.Debug("built plan", "schema", schema.Name(), "fields", schema.Len(),
			"computed", schema.ComputedCount())
	}
	return actual.(*Plan)
}

// Compute runs a full computation of one entity.
func (e *Engine) Compute(schema *core.FieldSchema, values core.EntityValues, collections core.Collections) core.ComputationResult {
	result := e.Plan(schema).compute(e.evaluator, values, collections, nil)
	e.logResult(schema, core.RunModeFull, result)
	return result
}

// ComputeIncremental recomputes only the fields affected by changed. An empty
// changed set is a full computation.
func (e *Engine) ComputeIncremental(schema *core.FieldSchema, values core.EntityValues, changed []core.FieldKey, collections core.Collections) core.ComputationResult {
	mode := core.RunModeIncremental
	if len(changed) == 0 {
		mode = core.RunModeFull
	}
	result := e.Plan(schema).computeIncremental(e.evaluator, values, changed, collections)
	e.logResult(schema, mode, result)
	return result
}

// ComputeBatch computes many entities of one schema in parallel. Results are in
// input order. It stops early only when ctx is cancelled; failed computations
// are reported in their results.
func (e *Engine) ComputeBatch(ctx context.Context, schema *core.FieldSchema, batch []core.EntityValues, collections core.Collections) ([]core.ComputationResult, error) {
	plan := e.Plan(schema)
	results := make([]core.ComputationResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, values := range batch {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = plan.compute(e.evaluator, values, collections, nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch computation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch computation: %w", err)
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	e.logger.Debug("computed batch", "schema", schema.Name(), "entities", len(batch), "failed", failed)

	return results, nil
}

func (e *Engine) logResult(schema *core.FieldSchema, mode core.RunMode, result core.ComputationResult) {
	if result.Success {
		e.logger.Debug("computed entity", "schema", schema.Name(), "mode", mode,
			"evaluated", len(result.Evaluated))
		return
	}
	e.logger.Debug("computation failed", "schema", schema.Name(), "mode", mode,
		"errors", len(result.Errors), "cycles", len(result.Cycles))
}
