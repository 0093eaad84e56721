package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapcalc/internal/cli/config"
	"github.com/leapstack-labs/leapcalc/internal/state"
)

// generateConfigDocs generates the configuration reference.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating configuration docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := generateConfigurationDoc(outDir); err != nil {
		return fmt.Errorf("failed to generate configuration.md: %w", err)
	}
	log.Printf("  Generated configuration.md")
	return nil
}

// ConfigField represents a configuration field definition.
type ConfigField struct {
	Name        string
	Type        string
	Default     string
	Description string
	Category    string // "project", "sqlite", "postgres"
}

// getConfigSchema mirrors internal/cli/config.Config and state.Config.
func getConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "templates_dir", Type: "string", Default: config.DefaultTemplatesDir, Description: "Directory holding template files", Category: "project"},
		{Name: "precision", Type: "int", Default: fmt.Sprint(config.DefaultPrecision), Description: "Fractional digits kept by division", Category: "project"},
		{Name: "workers", Type: "int", Default: "0", Description: "Parallel computations, 0 for one per CPU", Category: "project"},
		{Name: "log_level", Type: "string", Default: config.DefaultLogLevel, Description: "debug, info, warn or error", Category: "project"},
		{Name: "output", Type: "string", Default: config.DefaultOutput, Description: "auto, text, markdown or json", Category: "project"},
		{Name: "store.type", Type: "string", Default: config.DefaultStoreType, Description: "Store backend", Category: "project"},

		{Name: "store.path", Type: "string", Default: config.DefaultStateFile, Description: "Database file, or :memory:", Category: state.DialectSQLite},
		{Name: "store.busy_timeout", Type: "duration", Default: config.DefaultBusyTimeout.String(), Description: "How long a writer waits for a lock", Category: state.DialectSQLite},

		{Name: "store.host", Type: "string", Default: "localhost", Description: "Database host", Category: state.DialectPostgres},
		{Name: "store.port", Type: "int", Default: "5432", Description: "Database port", Category: state.DialectPostgres},
		{Name: "store.database", Type: "string", Description: "Database name (required)", Category: state.DialectPostgres},
		{Name: "store.user", Type: "string", Description: "Database username", Category: state.DialectPostgres},
		{Name: "store.password", Type: "string", Description: "Database password", Category: state.DialectPostgres},
		{Name: "store.options", Type: "map[string]string", Description: "Extra connection parameters such as sslmode", Category: state.DialectPostgres},
	}
}

func configRows(category string) [][]string {
	var rows [][]string
	for _, f := range getConfigSchema() {
		if f.Category != category {
			continue
		}
		defVal := "-"
		if f.Default != "" {
			defVal = InlineCode(f.Default)
		}
		rows = append(rows, []string{InlineCode(f.Name), f.Type, defVal, f.Description})
	}
	return rows
}

// generateConfigurationDoc generates the configuration reference page.
func generateConfigurationDoc(outDir string) error {
	w := NewMarkdownWriter()

	w.Frontmatter("Configuration", "leapcalc configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph("leapcalc is configured via `leapcalc.yaml` in your project root. " +
		"Environment variables override the file and explicitly set flags override both.")

	headers := []string{"Field", "Type", "Default", "Description"}

	w.Header(2, "Project Settings")
	w.Table(headers, configRows("project"))

	w.Header(2, "SQLite Store")
	w.Paragraph("SQLite is the default store. The database file is created on first use.")
	w.Table(headers, configRows(state.DialectSQLite))

	w.Header(2, "PostgreSQL Store")
	w.Table(headers, configRows(state.DialectPostgres))
	w.CodeBlock("yaml", `store:
  type: postgres
  host: localhost
  port: 5432
  database: budgets
  user: ${PGUSER}
  password: ${PGPASSWORD}
  options:
    sslmode: disable`)

	w.Header(2, "Environment Variables")
	w.Paragraph("Use `${VAR_NAME}` syntax to reference environment variables in store settings.")

	filename := filepath.Join(outDir, "configuration.md")
	return os.WriteFile(filename, w.Bytes(), 0600)
}
