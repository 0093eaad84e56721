package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/pkg/core"
)

// NewOrderCommand creates the order command.
func NewOrderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order <template>",
		Short: "Show the evaluation order of a template",
		Long: `Show the order in which the fields of a template are computed, the
levels that could be evaluated in parallel, and each field's dependencies
and dependents.`,
		Example: `  # Show evaluation order
  leapcalc order budget_line

  # As JSON
  leapcalc order budget_line -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(cmd, args[0])
		},
	}
	return cmd
}

func runOrder(cmd *cobra.Command, name string) error {
	cmdCtx, err := NewCommandContextWithoutStore(cmd)
	if err != nil {
		return err
	}
	schema, ok := cmdCtx.Catalog.Schema(name)
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}

	out := buildOrderOutput(cmdCtx.Engine.Plan(schema))
	r := cmdCtx.Renderer

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	default:
		renderOrder(r, out)
	}
	return nil
}

func buildOrderOutput(plan *engine.Plan) output.OrderOutput {
	out := output.OrderOutput{
		Template: plan.Schema.Name(),
		Order:    output.KeyStrings(plan.Order.Order),
	}
	for _, c := range plan.Order.Cycles {
		out.Cycles = append(out.Cycles, output.KeyStrings(c))
	}
	// Levels are undefined for cyclic schemas.
	if levels, err := plan.Graph.Levels(); err == nil {
		for _, level := range levels {
			out.Levels = append(out.Levels, output.KeyStrings(level))
		}
	}

	for _, key := range plan.Order.Order {
		node, ok := plan.Graph.Node(key)
		if !ok {
			continue
		}
		out.Fields = append(out.Fields, output.OrderField{
			Key:          string(node.Key),
			Role:         node.Role.String(),
			Formula:      node.Formula,
			Dependencies: output.KeyStrings(node.Dependencies),
			Dependents:   output.KeyStrings(plan.Graph.Dependents(key)),
			Scopes:       node.Scopes,
		})
	}
	return out
}

func renderOrder(r *output.Renderer, out output.OrderOutput) {
	r.Header(1, fmt.Sprintf("Evaluation order: %s", out.Template))

	if len(out.Cycles) > 0 {
		for _, c := range out.Cycles {
			keys := make([]core.FieldKey, len(c))
			for i, k := range c {
				keys[i] = core.FieldKey(k)
			}
			r.Warning("circular dependency: " + core.FormatCycle(keys))
		}
	}

	rows := make([][]string, 0, len(out.Fields))
	for i, f := range out.Fields {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			f.Key,
			f.Role,
			f.Formula,
			strings.Join(f.Dependencies, ", "),
			strings.Join(f.Dependents, ", "),
		})
	}
	r.Table([]string{"#", "Field", "Role", "Formula", "Depends on", "Used by"}, rows)

	if len(out.Levels) > 0 {
		r.Println()
		r.Header(2, "Levels")
		for i, level := range out.Levels {
			r.KeyValue(fmt.Sprintf("Level %d", i), strings.Join(level, ", "))
		}
	}
}
