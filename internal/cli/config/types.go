// Package config provides configuration management for the leapcalc CLI.
//
// Values are layered with koanf: built-in defaults, then leapcalc.yaml, then
// LEAPCALC_* environment variables, then explicitly set command-line flags.
package config

import (
	"github.com/leapstack-labs/leapcalc/internal/state"
	"github.com/leapstack-labs/leapcalc/pkg/numeric"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig = state.Config

// Config holds all CLI configuration options.
type Config struct {
	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`

	TemplatesDir string      `koanf:"templates_dir"`
	Store        StoreConfig `koanf:"store"`
	// Precision is the number of fractional digits kept by division.
	Precision int32 `koanf:"precision"`
	// Workers bounds parallel computation; 0 means one per CPU.
	Workers      int    `koanf:"workers"`
	LogLevel     string `koanf:"log_level"`
	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`
}

// Default configuration values.
const (
	DefaultTemplatesDir = "templates"
	DefaultStoreType    = state.DialectSQLite
	DefaultStateFile    = ".leapcalc/state.db"
	DefaultLogLevel     = "warn"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultPrecision    = numeric.DefaultDivisionPrecision
	DefaultBusyTimeout  = state.DefaultBusyTimeout
)

// Config file names, in lookup order.
var configFileNames = []string{"leapcalc.yaml", "leapcalc.yml"}

func defaults() map[string]any {
	return map[string]any{
		"templates_dir":      DefaultTemplatesDir,
		"store.type":         DefaultStoreType,
		"store.path":         DefaultStateFile,
		"store.busy_timeout": DefaultBusyTimeout.String(),
		"precision":          DefaultPrecision,
		"workers":            0,
		"log_level":          DefaultLogLevel,
		"verbose":            false,
		"output":             DefaultOutput,
	}
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		TemplatesDir: DefaultTemplatesDir,
		Store: StoreConfig{
			Type:        DefaultStoreType,
			Path:        DefaultStateFile,
			BusyTimeout: DefaultBusyTimeout,
		},
		Precision:    DefaultPrecision,
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutput,
	}
}
