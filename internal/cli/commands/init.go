package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/output"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new leapcalc project",
		Long: `Initialize a new leapcalc project with a configuration file and a
templates directory holding the standard budget line template.

This creates:
  - leapcalc.yaml configuration file
  - templates/budget_line.yaml

Use --example to also create a chapter template that aggregates its lines
and a sample budget to import.`,
		Example: `  # Initialize in current directory
  leapcalc init

  # Initialize with a working example
  leapcalc init --example

  # Initialize in a new directory
  leapcalc init my-budget --example

  # Force overwrite existing config
  leapcalc init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg := getConfig()
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

			name := "minimal"
			if example {
				name = "example"
			}
			return runInit(r, dir, name, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Create an example project with a chapter template and sample budget")

	return cmd
}

func runInit(r *output.Renderer, dir, scaffold string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, "leapcalc.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("leapcalc.yaml already exists. Use --force to overwrite")
	}

	if err := copyScaffold(scaffold, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}

	files, _ := listScaffoldFiles(scaffold)
	groups := groupScaffoldFiles(files)
	for _, group := range []struct{ key, title string }{
		{"config", "Configuration"},
		{"templates", "Templates"},
		{"data", "Sample data"},
	} {
		if len(groups[group.key]) == 0 {
			continue
		}
		r.Header(2, group.title)
		for _, f := range groups[group.key] {
			r.StatusLine(f, true, "")
		}
		r.Println()
	}

	r.Success("leapcalc project initialized!")
	r.Println()
	r.Println("Next steps:")
	r.Println("  leapcalc check                     Validate template formulas")
	r.Println("  leapcalc order budget_line         See how a line is computed")
	if scaffold == "example" {
		r.Println("  leapcalc import budget.yaml --compute")
		r.Println("  leapcalc compute structure         Recompute the chapter")
	} else {
		r.Println("  leapcalc eval budget_line --show --set real_quantity=10 --set real_price=100")
	}
	return nil
}
