package commands

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// ComputeOptions holds options for the compute command.
type ComputeOptions struct {
	Changed  []string
	DryRun   bool
	NoRollUp bool
	All      bool
	Template string
}

// NewComputeCommand creates the compute command.
func NewComputeCommand() *cobra.Command {
	opts := &ComputeOptions{}
	cmd := &cobra.Command{
		Use:   "compute [entity-id]",
		Short: "Compute stored entities",
		Long: `Compute the derived fields of a stored entity and roll the change up to
its ancestors. With --changed only the fields affected by the listed fields
are recomputed. Values are saved only when every formula succeeds; every
computation is recorded as a run.

With --all --template every entity of a template is recomputed, children
before parents.`,
		Example: `  # Full computation of one entity
  leapcalc compute 6f1c0b7e-line

  # Incremental recomputation after a price change
  leapcalc compute 6f1c0b7e-line --changed real_price

  # Preview without saving
  leapcalc compute 6f1c0b7e-line --dry-run

  # Recompute a whole template
  leapcalc compute --all --template budget_line`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.All {
				if len(args) > 0 {
					return errors.New("--all does not take an entity id")
				}
				if opts.Template == "" {
					return errors.New("--all requires --template")
				}
				return nil
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompute(cmd, args, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Changed, "changed", "c", nil, "Fields that changed (comma-separated); enables incremental mode")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Compute without recording a run or saving values")
	cmd.Flags().BoolVar(&opts.NoRollUp, "no-rollup", false, "Do not recompute ancestors")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Recompute every entity of --template")
	cmd.Flags().StringVarP(&opts.Template, "template", "t", "", "Template to recompute with --all")

	return cmd
}

func runCompute(cmd *cobra.Command, args []string, opts *ComputeOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	runOpts := engine.RecomputeOptions{DryRun: opts.DryRun, NoRollUp: opts.NoRollUp}

	var results []*engine.RecomputeResult
	if opts.All {
		results, err = cmdCtx.Runner.RecomputeAll(ctx, opts.Template, runOpts)
		if err != nil {
			return err
		}
	} else {
		changed := make([]core.FieldKey, 0, len(opts.Changed))
		for _, c := range opts.Changed {
			if c = strings.TrimSpace(c); c != "" {
				changed = append(changed, core.FieldKey(c))
			}
		}
		res, err := cmdCtx.Runner.Recompute(ctx, args[0], changed, runOpts)
		if err != nil {
			return err
		}
		results = []*engine.RecomputeResult{res}
	}

	outs := make([]output.ComputeOutput, 0, len(results))
	failed := 0
	for _, res := range results {
		outs = append(outs, buildComputeOutput(res))
		if !res.Success() {
			failed++
		}
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		var v any = outs
		if !opts.All {
			v = outs[0]
		}
		if err := r.JSON(v); err != nil {
			return err
		}
	} else {
		for i, out := range outs {
			renderCompute(r, out, results[i].Entity, opts.DryRun)
		}
	}

	if failed > 0 {
		return fmt.Errorf("computation failed for %d of %d entities", failed, len(results))
	}
	return nil
}

func buildComputeOutput(res *engine.RecomputeResult) output.ComputeOutput {
	out := output.ComputeOutput{
		EntityID:  res.Entity.ID,
		Template:  res.Entity.Template,
		Mode:      string(res.Mode),
		Success:   res.Result.Success,
		Values:    output.ValueStrings(res.Result.Values),
		Evaluated: output.KeyStrings(res.Result.Evaluated),
		Errors:    res.Result.Errors,
	}
	if res.Run != nil {
		out.RunID = res.Run.ID
		out.Status = string(res.Run.Status)
	}
	for _, a := range res.Ancestors {
		out.Ancestors = append(out.Ancestors, buildComputeOutput(a))
	}
	return out
}

func renderCompute(r *output.Renderer, out output.ComputeOutput, ent *core.Entity, dryRun bool) {
	title := out.EntityID
	if ent != nil && ent.Name != "" {
		title = fmt.Sprintf("%s (%s)", ent.Name, out.EntityID)
	}
	r.Header(1, title)
	r.KeyValue("Template", out.Template)
	r.KeyValue("Mode", out.Mode)
	if dryRun {
		r.KeyValue("Run", "dry run, nothing saved")
	} else if out.RunID != "" {
		r.KeyValue("Run", fmt.Sprintf("%s (%s)", out.RunID, out.Status))
	}
	r.Println()

	renderValues(r, out.Values, out.Evaluated, out.Errors)

	for _, a := range out.Ancestors {
		r.StatusLine("rolled up to "+a.EntityID, a.Success, a.Template)
	}
	if !out.Success {
		r.Println()
		for _, e := range out.Errors {
			r.Error(e.Error())
		}
	}
	r.Println()
}

// renderValues prints a Field/Value table in key order, flagging evaluated and failed fields.
func renderValues(r *output.Renderer, values map[string]string, evaluated []string, errs []core.FieldError) {
	isEvaluated := make(map[string]bool, len(evaluated))
	for _, k := range evaluated {
		isEvaluated[k] = true
	}
	failed := make(map[string]bool, len(errs))
	for _, e := range errs {
		failed[string(e.Field)] = true
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		note := ""
		switch {
		case failed[k]:
			note = "error"
		case isEvaluated[k]:
			note = "computed"
		}
		rows = append(rows, []string{output.FieldTitle(k), k, values[k], note})
	}
	r.Table([]string{"Field", "Key", "Value", ""}, rows)
}
