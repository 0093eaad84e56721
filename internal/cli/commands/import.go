package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/internal/loader"
	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// ImportOptions holds options for the import command.
type ImportOptions struct {
	Compute bool
}

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	opts := &ImportOptions{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import entities into the store",
		Long: `Import a YAML or JSON list of entities into the store. Entities without
an id get a generated one; existing ids are updated in place.

With --compute every imported entity is computed afterwards, children before
their parents.`,
		Example: `  # Import a budget
  leapcalc import budget.yaml

  # Import and compute
  leapcalc import budget.yaml --compute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Compute, "compute", false, "Compute imported entities")
	return cmd
}

func runImport(cmd *cobra.Command, path string, opts *ImportOptions) error {
	entities, err := readEntities(path)
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	for _, e := range entities {
		if _, ok := cmdCtx.Catalog.Schema(e.Template); !ok {
			return &engine.UnknownTemplateError{EntityID: e.ID, Template: e.Template}
		}
	}

	out := output.ImportOutput{IDs: make([]string, 0, len(entities))}
	for _, e := range entities {
		if err := cmdCtx.Store.SaveEntity(ctx, e); err != nil {
			return fmt.Errorf("failed to save entity %q: %w", e.Name, err)
		}
		out.IDs = append(out.IDs, e.ID)
	}
	out.Imported = len(entities)
	cmdCtx.Logger.Info("imported entities", "file", path, "count", out.Imported)

	if opts.Compute {
		for _, res := range computeImported(ctx, cmdCtx.Runner, cmdCtx.Logger, entities) {
			if res == nil {
				out.Failed++
				continue
			}
			out.Computed++
			if !res.Success() {
				out.Failed++
			}
		}
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(out); err != nil {
			return err
		}
	} else {
		r.Success(fmt.Sprintf("Imported %d entities from %s", out.Imported, path))
		if opts.Compute {
			r.KeyValue("Computed", fmt.Sprintf("%d", out.Computed))
			r.KeyValue("Failed", fmt.Sprintf("%d", out.Failed))
		}
	}

	if out.Failed > 0 {
		return fmt.Errorf("%d entities failed to compute", out.Failed)
	}
	return nil
}

func readEntities(path string) ([]*core.Entity, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the user on purpose
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	entities, err := loader.ParseEntities(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entities, nil
}

// computeImported computes entities deepest first. Entities whose parent was also
// imported skip roll-up; their parent is computed later in the same pass.
// A nil result marks an entity that could not be computed at all.
func computeImported(ctx context.Context, runner *engine.Runner, logger *slog.Logger, entities []*core.Entity) []*engine.RecomputeResult {
	byID := make(map[string]*core.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}
	depth := make(map[string]int, len(entities))
	for _, e := range entities {
		d := 0
		seen := map[string]bool{e.ID: true}
		for p, ok := byID[e.ParentID]; ok && !seen[p.ID]; p, ok = byID[p.ParentID] {
			seen[p.ID] = true
			d++
		}
		depth[e.ID] = d
	}

	ordered := make([]*core.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depth[ordered[i].ID] > depth[ordered[j].ID]
	})

	results := make([]*engine.RecomputeResult, 0, len(ordered))
	for _, e := range ordered {
		_, parentImported := byID[e.ParentID]
		res, err := runner.Recompute(ctx, e.ID, nil, engine.RecomputeOptions{NoRollUp: parentImported})
		if err != nil {
			logger.Error("failed to compute entity", "entity_id", e.ID, "error", err)
			results = append(results, nil)
			continue
		}
		results = append(results, res)
	}
	return results
}
