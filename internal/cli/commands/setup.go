package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcalc/internal/cli/config"
	"github.com/leapstack-labs/leapcalc/internal/cli/output"
	"github.com/leapstack-labs/leapcalc/internal/engine"
	"github.com/leapstack-labs/leapcalc/internal/loader"
	"github.com/leapstack-labs/leapcalc/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Catalog  *loader.Catalog
	Engine   *engine.Engine

	// Store and Runner are nil for commands created without a store.
	Store  *state.SQLStore
	Runner *engine.Runner
}

// NewCommandContext creates a CommandContext with templates, engine and store.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx, err := NewCommandContextWithoutStore(cmd)
	if err != nil {
		return nil, nil, err
	}

	store, err := state.Open(cmd.Context(), cmdCtx.Cfg.Store, cmdCtx.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	cmdCtx.Store = store
	cmdCtx.Runner = engine.NewRunner(cmdCtx.Engine, store, cmdCtx.Catalog, cmdCtx.Logger)

	cleanup := func() {
		if err := store.Close(); err != nil {
			cmdCtx.Logger.Warn("failed to close store", "error", err)
		}
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutStore creates a CommandContext without a store.
// Useful for commands that only inspect templates.
func NewCommandContextWithoutStore(cmd *cobra.Command) (*CommandContext, error) {
	cmdCtx := newBaseContext(cmd)

	catalog, err := loadCatalog(cmdCtx.Cfg)
	if err != nil {
		return nil, err
	}
	cmdCtx.Catalog = catalog
	cmdCtx.Engine = engine.New(engine.Config{
		Logger:    cmdCtx.Logger,
		Precision: cmdCtx.Cfg.Precision,
		Workers:   cmdCtx.Cfg.Workers,
	})
	return cmdCtx, nil
}

// newBaseContext resolves config, logger and renderer only.
func newBaseContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the loaded configuration, or the defaults when none was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}

func loadCatalog(cfg *config.Config) (*loader.Catalog, error) {
	if err := cfg.ValidateDirectories(); err != nil {
		return nil, err
	}
	catalog, err := loader.Load(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return catalog, nil
}
