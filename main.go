// Command isoview serves a browser viewer for triangle meshes, optionally
// rebuilt as an offset level-set surface, and pushes updates to connected
// viewers whenever the meshes or the processing logic change on disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chazu/isoview/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "isoview:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("isoview", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "YAML config file")
	listen := fs.String("listen", "", "listen address (overrides config)")
	models := fs.String("models", "", "model directory (overrides config)")
	file := fs.String("file", "", "initial model (overrides config)")
	level := fs.Float64("level", 0, "initial level scalar (overrides config)")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides config)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*cfgPath); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "models":
			cfg.Models.Dir = *models
		case "file":
			cfg.Initial.File = *file
		case "level":
			cfg.Initial.LevelScalar = *level
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	lvl, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
