// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
)

// BudgetLineTemplate is the standard budget line, relying on the default formulas.
const BudgetLineTemplate = `name: budget_line
description: One line of a budget
fields:
  - key: real_quantity
  - key: waste_pct
  - key: real_price
  - key: fee_pct
  - key: quantity
    role: computed
  - key: unit_price
    role: computed
  - key: total_real
    role: computed
  - key: total
    role: computed
`

// ChapterTemplate aggregates the lines below a chapter.
const ChapterTemplate = `name: chapter
fields:
  - key: overhead_pct
  - key: subtotal
    role: computed
    formula: SUM(children.total)
  - key: lines
    role: computed
    formula: COUNT(children)
  - key: total
    role: computed
    formula: subtotal * (1 + overhead_pct)
`

// Budget is a chapter with two lines: 10*1.1 * 100*1.15 = 1265 and 4 * 50 = 200.
const Budget = `- id: ch1
  template: chapter
  values:
    overhead_pct: 0.1
- id: l1
  parent_id: ch1
  template: budget_line
  values:
    real_quantity: 10
    waste_pct: 0.1
    real_price: 100
    fee_pct: 0.15
- id: l2
  parent_id: ch1
  template: budget_line
  values:
    real_quantity: 4
    waste_pct: 0
    real_price: 50
    fee_pct: 0
`

// SetupTestProject creates a temporary project with the budget line and
// chapter templates, a config file using a SQLite store inside the project,
// and a sample budget at budget.yaml.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(tmpDir, "templates"), 0o750); err != nil {
		t.Fatalf("failed to create templates directory: %v", err)
	}

	files := map[string]string{
		filepath.Join("templates", "budget_line.yaml"): BudgetLineTemplate,
		filepath.Join("templates", "chapter.yaml"):     ChapterTemplate,
		"budget.yaml": Budget,
		"leapcalc.yaml": `templates_dir: templates
store:
  type: sqlite
  path: state.db
log_level: error
output: markdown
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	return tmpDir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
