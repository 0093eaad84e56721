package engine

// run.go - Recomputing stored entities and rolling changes up the hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// Collection scopes the runner supplies to every computation.
const (
	ScopeChildren = "children"
	ScopeSiblings = "siblings"
)

// SchemaProvider supplies the schema of a template.
type SchemaProvider interface {
	Schema(name string) (*core.FieldSchema, bool)
}

// UnknownTemplateError is returned when an entity names a template the provider does not know.
type UnknownTemplateError struct {
	EntityID string
	Template string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("entity %s: unknown template %q", e.EntityID, e.Template)
}

// Runner recomputes persisted entities. Values are written back only when the
// computation succeeds; every computation is recorded as a run.
type Runner struct {
	engine    *Engine
	store     core.Store
	templates SchemaProvider
	logger    *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(e *Engine, store core.Store, templates SchemaProvider, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{engine: e, store: store, templates: templates, logger: logger}
}

// RecomputeOptions tunes a recomputation.
type RecomputeOptions struct {
	// DryRun computes without recording a run or saving values.
	DryRun bool
	// NoRollUp skips recomputing the ancestors of the entity.
	NoRollUp bool
}

// RecomputeResult is the outcome of recomputing one entity.
type RecomputeResult struct {
	Entity *core.Entity
	Mode   core.RunMode
	Result core.ComputationResult
	// Run is nil for dry runs.
	Run *core.Run
	// Ancestors holds the roll-up recomputations, nearest parent first.
	Ancestors []*RecomputeResult
}

// Success reports whether the entity and every recomputed ancestor succeeded.
func (r *RecomputeResult) Success() bool {
	if !r.Result.Success {
		return false
	}
	for _, a := range r.Ancestors {
		if !a.Result.Success {
			return false
		}
	}
	return true
}

// Recompute computes one entity, incrementally when changed is non-empty, and
// rolls a successful change up to its ancestors. The returned error covers
// storage and template lookup failures only; formula failures are in the result.
func (r *Runner) Recompute(ctx context.Context, entityID string, changed []core.FieldKey, opts RecomputeOptions) (*RecomputeResult, error) {
	res, err := r.recomputeOne(ctx, entityID, changed, opts)
	if err != nil {
		return nil, err
	}
	if opts.DryRun || opts.NoRollUp || !res.Result.Success {
		return res, nil
	}

	seen := map[string]bool{res.Entity.ID: true}
	parentID := res.Entity.ParentID
	for parentID != "" {
		if seen[parentID] {
			r.logger.Warn("entity hierarchy loops, stopping roll-up", "entity_id", parentID)
			break
		}
		seen[parentID] = true

		parent, err := r.recomputeOne(ctx, parentID, nil, opts)
		if err != nil {
			var unknown *UnknownTemplateError
			if errors.As(err, &unknown) {
				r.logger.Warn("skipping roll-up", "entity_id", parentID, "error", err)
				break
			}
			return res, fmt.Errorf("roll-up to %s: %w", parentID, err)
		}
		res.Ancestors = append(res.Ancestors, parent)
		if !parent.Result.Success {
			break
		}
		parentID = parent.Entity.ParentID
	}
	return res, nil
}

func (r *Runner) recomputeOne(ctx context.Context, entityID string, changed []core.FieldKey, opts RecomputeOptions) (*RecomputeResult, error) {
	ent, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}
	schema, ok := r.templates.Schema(ent.Template)
	if !ok {
		return nil, &UnknownTemplateError{EntityID: ent.ID, Template: ent.Template}
	}

	collections, err := r.collections(ctx, ent)
	if err != nil {
		return nil, err
	}

	res := &RecomputeResult{Entity: ent, Mode: core.RunModeFull}
	if len(changed) > 0 {
		res.Mode = core.RunModeIncremental
	}

	if !opts.DryRun {
		res.Run, err = r.store.CreateRun(ctx, ent.ID, res.Mode, changed)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		r.logger.Debug("created run", "run_id", res.Run.ID, "entity_id", ent.ID, "mode", res.Mode)
	}

	res.Result = r.engine.ComputeIncremental(schema, ent.Values, changed, collections)

	if opts.DryRun {
		return res, nil
	}

	if !res.Result.Success {
		r.logger.Info("computation failed", "entity_id", ent.ID, "errors", len(res.Result.Errors))
		if err := r.store.CompleteRun(ctx, res.Run.ID, core.RunStatusFailed, res.Result.Errors); err != nil {
			return nil, fmt.Errorf("failed to complete run: %w", err)
		}
		return r.reloadRun(ctx, res)
	}

	// Keep stored values of keys outside the schema.
	merged := ent.Values.Clone()
	for k, v := range res.Result.Values {
		merged[k] = v
	}
	ent.Values = merged
	if err := r.store.SaveEntity(ctx, ent); err != nil {
		saveErr := fmt.Errorf("failed to save entity %s: %w", ent.ID, err)
		if cerr := r.store.CompleteRun(ctx, res.Run.ID, core.RunStatusFailed, []core.FieldError{{
			Kind: core.ErrorKindEvaluation, Message: "save failed: " + err.Error(),
		}}); cerr != nil {
			return nil, errors.Join(saveErr, fmt.Errorf("failed to complete run %s: %w", res.Run.ID, cerr))
		}
		return nil, saveErr
	}
	if err := r.store.CompleteRun(ctx, res.Run.ID, core.RunStatusSucceeded, nil); err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}

	r.logger.Info("entity recomputed", "entity_id", ent.ID, "template", ent.Template,
		"mode", res.Mode, "evaluated", len(res.Result.Evaluated))
	return r.reloadRun(ctx, res)
}

func (r *Runner) reloadRun(ctx context.Context, res *RecomputeResult) (*RecomputeResult, error) {
	run, err := r.store.GetRun(ctx, res.Run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	res.Run = run
	return res, nil
}

// collections loads the children and siblings of ent as aggregation scopes.
// Both scopes are always supplied, possibly empty.
func (r *Runner) collections(ctx context.Context, ent *core.Entity) (core.Collections, error) {
	children, err := r.store.ListChildren(ctx, ent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", ent.ID, err)
	}

	c := core.Collections{
		ScopeChildren: records(children, ""),
		ScopeSiblings: []core.Record{},
	}

	if ent.ParentID != "" {
		siblings, err := r.store.ListChildren(ctx, ent.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to list siblings of %s: %w", ent.ID, err)
		}
		c[ScopeSiblings] = records(siblings, ent.ID)
	}
	return c, nil
}

func records(entities []*core.Entity, skipID string) []core.Record {
	recs := make([]core.Record, 0, len(entities))
	for _, e := range entities {
		if e.ID == skipID {
			continue
		}
		recs = append(recs, e.Record())
	}
	return recs
}

// RecomputeAll recomputes every entity of a template, deepest entities first so
// parents aggregate over freshly computed children. Entities are not rolled up
// individually; ancestors of other templates are not touched.
func (r *Runner) RecomputeAll(ctx context.Context, template string, opts RecomputeOptions) ([]*RecomputeResult, error) {
	if _, ok := r.templates.Schema(template); !ok {
		return nil, &UnknownTemplateError{Template: template}
	}

	entities, err := r.store.ListByTemplate(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	byID := make(map[string]*core.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	depth := func(e *core.Entity) int {
		d := 0
		seen := map[string]bool{e.ID: true}
		for p, ok := byID[e.ParentID]; ok && !seen[p.ID]; p, ok = byID[p.ParentID] {
			seen[p.ID] = true
			d++
		}
		return d
	}
	depths := make(map[string]int, len(entities))
	for _, e := range entities {
		depths[e.ID] = depth(e)
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return depths[entities[i].ID] > depths[entities[j].ID]
	})

	r.logger.Info("recomputing template", "template", template, "entities", len(entities))

	opts.NoRollUp = true
	results := make([]*RecomputeResult, 0, len(entities))
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.recomputeOne(ctx, e.ID, nil, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
