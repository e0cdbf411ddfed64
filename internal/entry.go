// Package internal provides application initialization: configuration,
// logging, graph store selection, and wiring of the content-graph root.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/canopy-notes/canopy/internal/graph"
	"github.com/canopy-notes/canopy/internal/graph/memgraph"
	"github.com/canopy-notes/canopy/internal/graph/sqlgraph"
	"github.com/canopy-notes/canopy/internal/root"
)

// App is the assembled application: a bootstrapped content-graph root over
// the configured store.
type App struct {
	Root   *root.Root
	Logger *slog.Logger

	config *Config
	store  graph.Store
}

// Open builds the application with the given options and runs the bootstrap
// contract against the store. The caller owns the returned App and must
// Close it.
func Open(ctx context.Context, opts ...Option) (*App, error) {
	app := &App{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	app.Logger = logger

	logger.Info("Configuration loaded",
		slog.String("graph_driver", cfg.Graph.Driver),
		slog.String("graph_path", cfg.Graph.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	switch cfg.Graph.Driver {
	case DriverMemory:
		app.store = memgraph.Open()
	case DriverSQLite:
		db, err := sqlgraph.Open(cfg.Graph.Path)
		if err != nil {
			return nil, fmt.Errorf("open graph store: %w", err)
		}
		app.store = db
	default:
		return nil, fmt.Errorf("unknown graph driver %q", cfg.Graph.Driver)
	}

	app.Root = root.New(app.store)

	if err := app.Root.Bootstrap(ctx); err != nil {
		app.store.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return app, nil
}

// Close releases the graph store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
