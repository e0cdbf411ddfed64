package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/canopy-notes/canopy/internal"
	"github.com/canopy-notes/canopy/internal/model"
	pkgconfig "github.com/canopy-notes/canopy/pkg/config"
)

func openApp(ctx context.Context, cmd *cli.Command) (*internal.App, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		// A missing file is fine unless the caller pointed at one explicitly;
		// the defaults carry the run.
		if cmd.IsSet("config") || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	return internal.Open(ctx, internal.WithConfig(cfg))
}

func runInit(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	// Open already ran the bootstrap contract; reaching here means the store
	// holds its sentinel and constraints.
	app.Logger.Info("store initialized")
	return nil
}

func runCreate(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read body from stdin: %w", err)
	}

	in := model.CreateStemInput{
		Title:     cmd.String("title"),
		Flowering: cmd.Bool("flowering"),
		Tags:      cmd.StringSlice("tag"),
		Body:      string(body),
	}
	if cmd.IsSet("parent") {
		parent := cmd.Int64("parent")
		in.ParentID = &parent
	}
	if cmd.IsSet("day") {
		day := cmd.Int64("day")
		in.Day = &day
	}

	stem, err := app.Root.CreateStem(ctx, in)
	if err != nil {
		return fmt.Errorf("create stem: %w", err)
	}

	app.Logger.Info("stem created",
		slog.Int64("id", stem.ID),
		slog.String("title", stem.Title),
		slog.Bool("flowering", stem.Flowering))
	return nil
}

func runPanel(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	snap, err := app.Root.MaterializePanel(ctx, int(cmd.Int64("limit")))
	if err != nil {
		return fmt.Errorf("materialize panel: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "canopy",
		Usage: "Graph-backed note store: stems grow leaves, days bucket posts",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Bootstrap the graph store (constraints + sentinel)",
				Action: runInit,
			},
			{
				Name:   "create",
				Usage:  "Create a stem; body is read from stdin",
				Action: runCreate,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Title for a top-level stem"},
					&cli.Int64Flag{Name: "parent", Usage: "Leaf id this stem extends"},
					&cli.BoolFlag{Name: "flowering", Usage: "Mark the stem as flowering"},
					&cli.StringSliceFlag{Name: "tag", Usage: "Tag name (repeatable)"},
					&cli.Int64Flag{Name: "day", Usage: "Day index override (days since epoch, UTC)"},
				},
			},
			{
				Name:   "panel",
				Usage:  "Print a materialized panel overview as JSON",
				Action: runPanel,
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "limit", Value: 30, Usage: "Listing bound"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
