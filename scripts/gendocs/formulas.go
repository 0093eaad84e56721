package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapcalc/pkg/core"
	"github.com/leapstack-labs/leapcalc/pkg/formula"
)

var aggregateDocs = []struct {
	fn          formula.Func
	description string
	example     string
}{
	{formula.FuncSum, "Sum of a field over the members", "SUM(children.total)"},
	{formula.FuncAvg, "Average of a field, zero when there are no members", "AVG(children.total)"},
	{formula.FuncMin, "Smallest value of a field", "MIN(siblings.unit_price)"},
	{formula.FuncMax, "Largest value of a field", "MAX(children.total WHERE sumable = true)"},
	{formula.FuncCount, "Number of members", "COUNT(children)"},
}

// generateFormulaDocs generates the formula language reference.
func generateFormulaDocs(outDir string) error {
	log.Printf("Generating formula docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Formulas", "Formula language reference")
	w.GeneratedMarker()

	w.Header(1, "Formulas")
	w.Paragraph("Computed fields are defined by formulas over the other fields of the same entity. " +
		"Arithmetic is exact decimal arithmetic; division keeps the configured number of fractional digits.")

	w.Header(2, "Operators")
	w.Table([]string{"Operator", "Meaning"}, [][]string{
		{InlineCode("+ -"), "Addition and subtraction"},
		{InlineCode("* /"), "Multiplication and division"},
		{InlineCode("-x"), "Negation"},
		{InlineCode("( )"), "Grouping"},
	})

	w.Header(2, "Aggregates")
	w.Paragraph("Aggregates reduce a collection of related entities. " +
		"`children` holds the entities below the computed one and `siblings` those sharing its parent. " +
		"A `WHERE field = value` clause keeps only matching members.")
	var rows [][]string
	for _, a := range aggregateDocs {
		rows = append(rows, []string{InlineCode(string(a.fn)), a.description, InlineCode(a.example)})
	}
	w.Table([]string{"Function", "Description", "Example"}, rows)

	w.Header(2, "Default Formulas")
	w.Paragraph("A computed field without a formula uses the default for its key:")
	var defaults [][]string
	for _, key := range []core.FieldKey{"quantity", "unit_price", "total_real", "total"} {
		f, _ := core.DefaultFormula(key)
		defaults = append(defaults, []string{InlineCode(string(key)), InlineCode(f)})
	}
	w.Table([]string{"Field", "Formula"}, defaults)

	filename := filepath.Join(outDir, "formulas.md")
	if err := os.WriteFile(filename, w.Bytes(), 0600); err != nil {
		return err
	}
	log.Printf("  Generated formulas.md")
	return nil
}
