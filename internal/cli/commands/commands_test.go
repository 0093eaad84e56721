package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapcalc/internal/cli/config"
	"github.com/leapstack-labs/leapcalc/internal/cli/testutil"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/internal/loader"
	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		name  string
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{"templates", NewTemplatesCommand(), "templates", nil},
		{"check", NewCheckCommand(), "check [template...]", []string{"watch"}},
		{"order", NewOrderCommand(), "order <template>", nil},
		{"import", NewImportCommand(), "import <file>", []string{"compute"}},
		{"compute", NewComputeCommand(), "compute [entity-id]", []string{"changed", "dry-run", "no-rollup", "all", "template"}},
		{"eval", NewEvalCommand(), "eval <template> [expression]", []string{"set", "file", "show"}},
		{"version", NewVersionCommand("test"), "version", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, f := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(f), "--%s flag should exist", f)
			}
		})
	}
}

func TestTemplatesAlias(t *testing.T) {
	assert.Contains(t, NewTemplatesCommand().Aliases, "ls")
}

func TestComputeArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "entity id", args: []string{"l1"}},
		{name: "missing id", args: []string{}, wantErr: true},
		{name: "all with template", args: []string{"--all", "--template", "budget_line"}},
		{name: "all without template", args: []string{"--all"}, wantErr: true},
		{name: "all with id", args: []string{"--all", "--template", "budget_line", "l1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewComputeCommand()
			require.NoError(t, cmd.ParseFlags(tt.args))
			err := cmd.Args(cmd, cmd.Flags().Args())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func parseTemplate(t *testing.T, content string) *core.FieldSchema {
	t.Helper()
	schema, err := loader.ParseTemplate(strings.NewReader(content), "test.yaml")
	require.NoError(t, err)
	return schema
}

func newTestSession(t *testing.T, content string, opts *EvalOptions) *evalSession {
	t.Helper()
	cmdCtx := &CommandContext{
		Cfg:    config.Default(),
		Engine: engine.New(engine.Config{Logger: slog.New(slog.DiscardHandler)}),
	}
	sess, err := newEvalSession(cmdCtx, parseTemplate(t, content), opts)
	require.NoError(t, err)
	return sess
}

func lineInputs() []string {
	return []string{"real_quantity=10", "waste_pct=0.1", "real_price=100", "fee_pct=0.15"}
}

func TestEvalSession_ComputesLine(t *testing.T) {
	sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{Set: lineInputs()})
	require.True(t, sess.result.Success)

	want := map[core.FieldKey]string{
		"quantity":   "11",
		"unit_price": "115",
		"total_real": "1000",
		"total":      "1265",
	}
	for key, v := range want {
		got, ok := sess.result.Values[key]
		require.True(t, ok, "missing %s", key)
		assert.True(t, got.Equal(numeric.MustParse(v)), "%s = %s, want %s", key, got, v)
	}
}

func TestEvalSession_Eval(t *testing.T) {
	sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{Set: lineInputs()})

	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{expr: "total - total_real", want: "265"},
		{expr: "quantity * 2", want: "22"},
		{expr: "real_price / 4", want: "25"},
		{expr: "COUNT(children)", want: "0"},
		{expr: "total +", wantErr: true},
		{expr: "missing_field", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := sess.eval(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(numeric.MustParse(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestEvalSession_Set(t *testing.T) {
	sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{})

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "input", key: "real_price", value: "12.50"},
		{name: "input with spaces", key: " fee_pct ", value: " 0.2 "},
		{name: "computed", key: "total", value: "1", wantErr: "is computed"},
		{name: "unknown", key: "discount", value: "1", wantErr: "unknown field"},
		{name: "not a number", key: "real_price", value: "abc", wantErr: "real_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sess.set(tt.key, tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			v, ok := sess.values[core.FieldKey(strings.TrimSpace(tt.key))]
			require.True(t, ok)
			assert.True(t, v.Equal(numeric.MustParse(strings.TrimSpace(tt.value))))
		})
	}
}

func TestNewEvalSession_InvalidSet(t *testing.T) {
	cmdCtx := &CommandContext{Cfg: config.Default(), Engine: engine.New(engine.Config{})}
	_, err := newEvalSession(cmdCtx, parseTemplate(t, testutil.BudgetLineTemplate), &EvalOptions{Set: []string{"real_price"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}

func TestEvalSession_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "budget.yaml", testutil.Budget+`- id: l3
  parent_id: other
  template: budget_line
  values:
    real_quantity: 1
    real_price: 1
`)

	t.Run("chapter sees its lines as children", func(t *testing.T) {
		sess := newTestSession(t, testutil.ChapterTemplate, &EvalOptions{File: path})
		assert.Len(t, sess.collections[engine.ScopeChildren], 2)
		assert.Empty(t, sess.collections[engine.ScopeSiblings])

		// Children carry stored inputs only, so their totals are not known yet.
		got, err := sess.eval("COUNT(children)")
		require.NoError(t, err)
		assert.True(t, got.Equal(numeric.NewFromInt(2)))
	})

	t.Run("line sees the other line of its chapter as sibling", func(t *testing.T) {
		sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{File: path})
		assert.Empty(t, sess.collections[engine.ScopeChildren])
		assert.Len(t, sess.collections[engine.ScopeSiblings], 1)
		assert.True(t, sess.values["real_quantity"].Equal(numeric.NewFromInt(10)))
		assert.True(t, sess.result.Success)
	})

	t.Run("set overrides file values", func(t *testing.T) {
		sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{File: path, Set: []string{"real_quantity=20"}})
		got, err := sess.eval("total_real")
		require.NoError(t, err)
		assert.True(t, got.Equal(numeric.NewFromInt(2000)))
	})

	t.Run("no entity of the template", func(t *testing.T) {
		other := writeFile(t, dir, "lines.yaml", `- id: x
  template: budget_line
  values:
    real_quantity: 1
`)
		cmdCtx := &CommandContext{Cfg: config.Default(), Engine: engine.New(engine.Config{})}
		_, err := newEvalSession(cmdCtx, parseTemplate(t, testutil.ChapterTemplate), &EvalOptions{File: other})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no entity of template "chapter"`)
	})
}

func TestEvalSession_HandleLine(t *testing.T) {
	sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{Set: lineInputs()})

	tests := []struct {
		name     string
		line     string
		wantQuit bool
		wantOut  string
		wantErr  string
	}{
		{name: "blank", line: "   "},
		{name: "expression", line: "total - total_real", wantOut: "265"},
		{name: "bad expression", line: "total +", wantErr: "parse error"},
		{name: "formula", line: ".formula total", wantOut: "unit_price * quantity"},
		{name: "formula of input", line: ".formula real_price", wantErr: "not a computed field"},
		{name: "formula without field", line: ".formula", wantErr: "Usage: .formula"},
		{name: "set", line: ".set real_quantity 20", wantOut: "real_quantity = 20"},
		{name: "set computed", line: ".set total 5", wantErr: "is computed"},
		{name: "set without value", line: ".set real_quantity", wantErr: "Usage: .set"},
		{name: "show", line: ".show", wantOut: "total_real"},
		{name: "help", line: ".help", wantOut: ".formula <field>"},
		{name: "unknown", line: ".frobnicate", wantErr: "Unknown command: .frobnicate"},
		{name: "quit", line: ".quit", wantQuit: true},
		{name: "exit", line: ".EXIT", wantQuit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := testutil.NewTestRendererMarkdown()
			quit := sess.handleLine(tr.Renderer, tt.line)
			assert.Equal(t, tt.wantQuit, quit)
			if tt.wantOut != "" {
				assert.Contains(t, tr.Output(), tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, tr.ErrorOutput(), tt.wantErr)
			}
		})
	}

	// .set recomputed the entity.
	got, err := sess.eval("total_real")
	require.NoError(t, err)
	assert.True(t, got.Equal(numeric.NewFromInt(2000)))
}

func TestEvalSession_ShowJSON(t *testing.T) {
	sess := newTestSession(t, testutil.BudgetLineTemplate, &EvalOptions{Set: lineInputs()})
	tr := testutil.NewTestRendererJSON()
	require.NoError(t, sess.show(tr.Renderer))
	assert.Contains(t, tr.Output(), `"template": "budget_line"`)
	assert.Contains(t, tr.Output(), `"total": "1265"`)
	testutil.AssertNoANSI(t, tr.Output())
}

func TestBuildCheckOutput(t *testing.T) {
	broken := core.MustFieldSchema("broken", []core.Field{
		{Key: "a", Role: core.RoleComputed, Formula: "b + 1"},
		{Key: "b", Role: core.RoleComputed, Formula: "a * 2"},
		{Key: "c", Role: core.RoleComputed, Formula: "nope + 1"},
		{Key: "d", Role: core.RoleComputed, Formula: "SUM(cousins.total)"},
	})
	catalog, err := loader.NewCatalog(parseTemplate(t, testutil.BudgetLineTemplate), broken)
	require.NoError(t, err)

	t.Run("all templates", func(t *testing.T) {
		out, err := buildCheckOutput(catalog, nil)
		require.NoError(t, err)
		require.Len(t, out.Templates, 2)

		byName := map[string]int{}
		for i, ct := range out.Templates {
			byName[ct.Name] = i
		}
		assert.True(t, out.Templates[byName["budget_line"]].OK)

		bt := out.Templates[byName["broken"]]
		assert.False(t, bt.OK)
		kinds := map[string]bool{}
		for _, p := range bt.Problems {
			kinds[p.Kind] = true
		}
		assert.True(t, kinds[string(engine.ProblemCycle)], "cycle reported")
		assert.True(t, kinds[string(engine.ProblemUnresolved)], "unknown field reported")
		assert.True(t, kinds[string(engine.ProblemScope)], "unknown collection reported")
		assert.Equal(t, len(bt.Problems), out.ProblemCount)
	})

	t.Run("selected template", func(t *testing.T) {
		out, err := buildCheckOutput(catalog, []string{"budget_line"})
		require.NoError(t, err)
		require.Len(t, out.Templates, 1)
		assert.Zero(t, out.ProblemCount)
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := buildCheckOutput(catalog, []string{"missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown template "missing"`)
	})
}

func TestBuildOrderOutput(t *testing.T) {
	t.Run("budget line", func(t *testing.T) {
		out := buildOrderOutput(engine.NewPlan(parseTemplate(t, testutil.BudgetLineTemplate)))
		assert.Equal(t, "budget_line", out.Template)
		assert.Empty(t, out.Cycles)
		assert.NotEmpty(t, out.Levels)

		pos := map[string]int{}
		for i, k := range out.Order {
			pos[k] = i
		}
		assert.Less(t, pos["quantity"], pos["total"])
		assert.Less(t, pos["unit_price"], pos["total"])

		for _, f := range out.Fields {
			if f.Key == "total" {
				assert.ElementsMatch(t, []string{"unit_price", "quantity"}, f.Dependencies)
				assert.Empty(t, f.Dependents)
			}
		}
	})

	t.Run("cycle", func(t *testing.T) {
		schema := core.MustFieldSchema("loop", []core.Field{
			{Key: "a", Role: core.RoleComputed, Formula: "b + 1"},
			{Key: "b", Role: core.RoleComputed, Formula: "a + 1"},
		})
		out := buildOrderOutput(engine.NewPlan(schema))
		require.Len(t, out.Cycles, 1)
		assert.ElementsMatch(t, []string{"a", "b"}, out.Cycles[0][:2])
		assert.Nil(t, out.Levels)

		tr := testutil.NewTestRendererMarkdown()
		renderOrder(tr.Renderer, out)
		assert.Contains(t, tr.ErrorOutput(), "a")
		testutil.AssertValidMarkdown(t, tr.Output())
	})
}

func TestReadEntities(t *testing.T) {
	dir := t.TempDir()

	entities, err := readEntities(writeFile(t, dir, "budget.yaml", testutil.Budget))
	require.NoError(t, err)
	require.Len(t, entities, 3)
	assert.Equal(t, "ch1", entities[0].ID)
	assert.Equal(t, "ch1", entities[1].ParentID)

	_, err = readEntities(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
