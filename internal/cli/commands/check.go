package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/internal/loader"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Watch bool
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &CheckOptions{}
	cmd := &cobra.Command{
		Use:   "check [template...]",
		Short: "Validate template formulas",
		Long: `Parse every formula, resolve its references and look for circular
dependencies. Exits non-zero when a problem is found.

With --watch the templates directory is watched and checked again on every change.`,
		Example: `  # Check all templates
  leapcalc check

  # Check one template
  leapcalc check budget_line

  # Re-check on every save
  leapcalc check --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Watch templates and re-check on change")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string, opts *CheckOptions) error {
	if opts.Watch {
		return runCheckWatch(cmd, args)
	}

	cmdCtx, err := NewCommandContextWithoutStore(cmd)
	if err != nil {
		return err
	}

	out, err := buildCheckOutput(cmdCtx.Catalog, args)
	if err != nil {
		return err
	}
	if err := renderCheck(cmdCtx.Renderer, out); err != nil {
		return err
	}
	if out.ProblemCount > 0 {
		return fmt.Errorf("%d problem(s) found", out.ProblemCount)
	}
	return nil
}

func runCheckWatch(cmd *cobra.Command, args []string) error {
	cmdCtx := newBaseContext(cmd)
	r := cmdCtx.Renderer
	dir := cmdCtx.Cfg.TemplatesDir

	report := func(catalog *loader.Catalog, err error) {
		if err != nil {
			r.Error(err.Error())
			return
		}
		out, err := buildCheckOutput(catalog, args)
		if err != nil {
			r.Error(err.Error())
			return
		}
		if err := renderCheck(r, out); err != nil {
			r.Error(err.Error())
		}
	}

	if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
		return err
	}
	report(loader.Load(dir))
	r.Muted("Watching " + dir + " for changes (Ctrl+C to stop)")

	return loader.Watch(cmd.Context(), dir, cmdCtx.Logger, report)
}

func buildCheckOutput(catalog *loader.Catalog, only []string) (output.CheckOutput, error) {
	names := catalog.Names()
	if len(only) > 0 {
		for _, name := range only {
			if !slices.Contains(names, name) {
				return output.CheckOutput{}, fmt.Errorf("unknown template %q", name)
			}
		}
		names = only
	}

	out := output.CheckOutput{Templates: make([]output.CheckTemplate, 0, len(names))}
	for _, name := range names {
		schema, _ := catalog.Schema(name)
		problems := engine.Check(schema, engine.RunnerScopes())

		ct := output.CheckTemplate{Name: name, OK: len(problems) == 0}
		for _, p := range problems {
			ct.Problems = append(ct.Problems, output.CheckProblem{
				Kind:    string(p.Kind),
				Field:   string(p.Field),
				Message: p.Message,
				Column:  p.Column,
			})
		}
		out.ProblemCount += len(problems)
		out.Templates = append(out.Templates, ct)
	}
	return out, nil
}

func renderCheck(r *output.Renderer, out output.CheckOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Check (%d templates)", len(out.Templates)))
	for _, t := range out.Templates {
		detail := "ok"
		if !t.OK {
			detail = fmt.Sprintf("%d problem(s)", len(t.Problems))
		}
		r.StatusLine(t.Name, t.OK, detail)
		for _, p := range t.Problems {
			r.Printf("    %s %s: %s\n", r.Styles().Warning.Render("["+p.Kind+"]"), p.Field, p.Message)
		}
	}
	r.Println()

	if out.ProblemCount == 0 {
		r.Success("All templates are valid")
	}
	return nil
}
