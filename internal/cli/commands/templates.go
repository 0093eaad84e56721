package commands

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/loader"
)

// fingerprintWidth is how much of a schema fingerprint is shown in tables.
const fingerprintWidth = 12

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"ls"},
		Short:   "List the field templates",
		Long: `List every template found under the templates directory with its
field count, number of computed fields and schema fingerprint.

Output adapts to environment:
  - Terminal: Styled table
  - Piped/Scripted: Markdown table
  - JSON: Machine-readable format`,
		Example: `  # List templates
  leapcalc templates

  # List templates as JSON
  leapcalc templates -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTemplates(cmd)
		},
	}
	return cmd
}

func runTemplates(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContextWithoutStore(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	out := buildTemplatesOutput(cmdCtx.Catalog, cmdCtx.Cfg.TemplatesDir)
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(1, fmt.Sprintf("Templates (%d total)", out.Count))
	if out.Count == 0 {
		r.Muted("No templates found in " + cmdCtx.Cfg.TemplatesDir)
		return nil
	}

	rows := make([][]string, 0, len(out.Templates))
	for _, t := range out.Templates {
		fp := t.Fingerprint
		if len(fp) > fingerprintWidth {
			fp = fp[:fingerprintWidth]
		}
		rows = append(rows, []string{
			t.Name,
			strconv.Itoa(t.Fields),
			strconv.Itoa(t.Computed),
			fp,
			t.Description,
		})
	}
	r.Table([]string{"Name", "Fields", "Computed", "Fingerprint", "Description"}, rows)
	return nil
}

func buildTemplatesOutput(catalog *loader.Catalog, dir string) output.TemplatesOutput {
	names := catalog.Names()
	out := output.TemplatesOutput{
		Templates: make([]output.TemplateInfo, 0, len(names)),
		Count:     len(names),
	}
	for _, name := range names {
		schema, _ := catalog.Schema(name)
		source := catalog.Source(name)
		if rel, err := filepath.Rel(dir, source); err == nil && source != "" {
			source = rel
		}
		out.Templates = append(out.Templates, output.TemplateInfo{
			Name:        name,
			Description: schema.Description(),
			Source:      source,
			Fields:      schema.Len(),
			Computed:    schema.ComputedCount(),
			Fingerprint: schema.Fingerprint(),
		})
	}
	return out
}
