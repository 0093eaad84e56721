package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/formula"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

// EvalOptions holds options for the eval command.
type EvalOptions struct {
	Set  []string
	File string
	Show bool
}

// NewEvalCommand creates the eval command.
func NewEvalCommand() *cobra.Command {
	opts := &EvalOptions{}
	cmd := &cobra.Command{
		Use:   "eval <template> [expression]",
		Short: "Evaluate formulas against an ad-hoc entity",
		Long: `Compute an entity of a template from values given on the command line or
read from a file, without touching the store.

With an expression, the expression is evaluated against the computed entity.
With --show, the computed entity is printed. Otherwise an interactive session
starts where expressions can be typed and inputs changed.

The file is an entity list as accepted by import. The first entity of the
template is the one computed; entities whose parent is that entity form its
"children" collection and entities sharing its parent form "siblings".`,
		Example: `  # Compute a line and show every field
  leapcalc eval budget_line --set real_quantity=10 --set waste_pct=0.1 \
    --set real_price=100 --set fee_pct=0.15 --show

  # Evaluate one expression
  leapcalc eval budget_line "total - total_real" --set real_quantity=10 --set real_price=100

  # Aggregate over children read from a file
  leapcalc eval chapter "SUM(children.total WHERE sumable = true)" --file chapter.yaml

  # Interactive session
  leapcalc eval budget_line --file line.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, args, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Set, "set", "s", nil, "Set an input value (key=value), repeatable")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read the entity and its collections from a YAML or JSON file")
	cmd.Flags().BoolVar(&opts.Show, "show", false, "Print the computed entity")

	return cmd
}

func runEval(cmd *cobra.Command, args []string, opts *EvalOptions) error {
	cmdCtx, err := NewCommandContextWithoutStore(cmd)
	if err != nil {
		return err
	}

	schema, ok := cmdCtx.Catalog.Schema(args[0])
	if !ok {
		return fmt.Errorf("unknown template %q", args[0])
	}

	sess, err := newEvalSession(cmdCtx, schema, opts)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	switch {
	case len(args) == 2:
		v, err := sess.eval(args[1])
		if err != nil {
			return err
		}
		if r.EffectiveMode() == output.ModeJSON {
			return r.JSON(output.EvalOutput{Template: schema.Name(), Expression: args[1], Value: v.String()})
		}
		r.Println(v.String())
		return nil

	case opts.Show || !isInteractive(cmd.InOrStdin()):
		if err := sess.show(r); err != nil {
			return err
		}
		if !sess.result.Success {
			return sess.result.Err()
		}
		return nil

	default:
		return runEvalREPL(cmd, sess)
	}
}

func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// evalSession is an in-memory entity of one template.
type evalSession struct {
	schema      *core.FieldSchema
	engine      *engine.Engine
	evaluator   *formula.Evaluator
	values      core.EntityValues
	collections core.Collections
	result      core.ComputationResult
}

func newEvalSession(cmdCtx *CommandContext, schema *core.FieldSchema, opts *EvalOptions) (*evalSession, error) {
	var evOpts []formula.Option
	if cmdCtx.Cfg.Precision > 0 {
		evOpts = append(evOpts, formula.WithDivisionPrecision(cmdCtx.Cfg.Precision))
	}
	s := &evalSession{
		schema:      schema,
		engine:      cmdCtx.Engine,
		evaluator:   formula.NewEvaluator(evOpts...),
		values:      core.EntityValues{},
		collections: core.Collections{engine.ScopeChildren: nil, engine.ScopeSiblings: nil},
	}

	if opts.File != "" {
		if err := s.loadFile(opts.File); err != nil {
			return nil, err
		}
	}
	for _, kv := range opts.Set {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q (expected key=value)", kv)
		}
		if err := s.set(key, value); err != nil {
			return nil, err
		}
	}
	s.recompute()
	return s, nil
}

func (s *evalSession) loadFile(path string) error {
	entities, err := readEntities(path)
	if err != nil {
		return err
	}

	var subject *core.Entity
	for _, e := range entities {
		if e.Template == s.schema.Name() {
			subject = e
			break
		}
	}
	if subject == nil {
		return fmt.Errorf("%s: no entity of template %q", path, s.schema.Name())
	}

	var children, siblings []core.Record
	for _, e := range entities {
		switch {
		case e == subject:
		case subject.ID != "" && e.ParentID == subject.ID:
			children = append(children, e.Record())
		case subject.ParentID != "" && e.ParentID == subject.ParentID:
			siblings = append(siblings, e.Record())
		}
	}
	s.values = subject.Values.Clone()
	s.collections[engine.ScopeChildren] = children
	s.collections[engine.ScopeSiblings] = siblings
	return nil
}

// set changes one input value. Computed fields cannot be set.
func (s *evalSession) set(key, value string) error {
	key = strings.TrimSpace(key)
	f, ok := s.schema.Field(core.FieldKey(key))
	if !ok {
		return fmt.Errorf("unknown field %q", key)
	}
	if f.IsComputed() {
		return fmt.Errorf("field %q is computed", key)
	}
	d, err := numeric.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	s.values[core.FieldKey(key)] = d
	return nil
}

func (s *evalSession) recompute() {
	s.result = s.engine.Compute(s.schema, s.values, s.collections)
}

// eval evaluates text against the inputs overlaid with the computed values.
func (s *evalSession) eval(text string) (numeric.Decimal, error) {
	env := s.values.Clone()
	for k, v := range s.result.Values {
		env[k] = v
	}
	return s.evaluator.Evaluate(text, env, s.collections)
}

func (s *evalSession) show(r *output.Renderer) error {
	out := output.ComputeOutput{
		Template:  s.schema.Name(),
		Mode:      string(core.RunModeFull),
		Success:   s.result.Success,
		Values:    output.ValueStrings(s.result.Values),
		Evaluated: output.KeyStrings(s.result.Evaluated),
		Errors:    s.result.Errors,
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, s.schema.Name())
	renderValues(r, out.Values, out.Evaluated, out.Errors)
	for _, e := range out.Errors {
		r.Error(e.Error())
	}
	return nil
}
