package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/leapstack-labs/leapcalc/internal/state"
)

// OutputFormats are the accepted values of the output option.
var OutputFormats = []string{"auto", "text", "markdown", "json"}

// Validate checks if the configuration is valid.
// Directory existence is checked separately so help commands work anywhere.
func (c *Config) Validate() error {
	if c.TemplatesDir == "" {
		return fmt.Errorf("templates_dir is required")
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Precision < 0 {
		return fmt.Errorf("precision must not be negative, got %d", c.Precision)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.OutputFormat != "" && !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("invalid output format %q (expected one of %v)", c.OutputFormat, OutputFormats)
	}
	return nil
}

// ValidateStore checks the store section against the registered backends.
func (c *Config) ValidateStore() error {
	if c.Store.Type == "" {
		return fmt.Errorf("store type is required")
	}
	if !slices.Contains(state.Backends(), c.Store.Type) {
		return &state.UnknownBackendError{Type: c.Store.Type, Available: state.Backends()}
	}
	switch c.Store.Type {
	case state.DialectSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case state.DialectPostgres:
		if c.Store.Database == "" {
			return fmt.Errorf("store.database is required for postgres")
		}
	}
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	info, err := os.Stat(c.TemplatesDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("templates directory does not exist: %s\nHint: Create the directory or use --templates-dir to specify a different path", c.TemplatesDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("templates path is not a directory: %s", c.TemplatesDir)
	}
	return nil
}
