package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/chazu/isoview/pkg/config"
	"github.com/chazu/isoview/pkg/engine"
	"github.com/chazu/isoview/pkg/grid"
	"github.com/chazu/isoview/pkg/kernel/sdfx"
	"github.com/chazu/isoview/pkg/loader"
	"github.com/chazu/isoview/pkg/notify"
	"github.com/chazu/isoview/pkg/pipeline"
	"github.com/chazu/isoview/pkg/server"
	"github.com/chazu/isoview/pkg/store"
	"github.com/chazu/isoview/pkg/watch"
)

// assetPrefix is the directory viewers see models under, independent of
// where cfg.Models.Dir points on disk.
const assetPrefix = "models"

// App wires the pipeline, the mesh store, the watcher and the request
// surface together.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	engine   *engine.Engine
	pipeline *pipeline.Pipeline
	hub      *notify.Hub
	store    *store.Store
	watcher  *watch.Watcher
	waker    *watch.Waker
	server   *server.Server
}

// configStrategy is the strategy used until the processing-logic script
// has been evaluated.
func configStrategy(cfg *config.Config) pipeline.Strategy {
	r := cfg.Reconstruct.Resolution
	return pipeline.Strategy{
		Name:        "config",
		Grid:        grid.Options{Resolution: [3]int{r, r, r}, Expand: cfg.Reconstruct.Expand},
		FlipWinding: cfg.Reconstruct.FlipWinding,
	}
}

// NewApp builds every component from cfg. Nothing is loaded until Startup.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, engine: engine.NewEngine()}

	s := configStrategy(cfg)
	p, err := pipeline.New(loader.OBJ{Dir: cfg.Models.Dir}, sdfx.New(), pipeline.Options{
		Strategy: &s,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	a.hub = notify.NewHub(notify.HubOptions{
		Buffer:       cfg.Hub.Buffer,
		WriteTimeout: cfg.Hub.WriteTimeout,
		Logger:       logger,
	})
	a.store = store.New(p, store.Options{Publisher: a.hub, Logger: logger})

	if cfg.Watch.FSNotify {
		a.waker, err = watch.NewWaker([]string{cfg.Logic, cfg.Page, cfg.Models.Dir}, logger)
		if err != nil {
			logger.Warn("app: filesystem notifications unavailable, polling only", "error", err)
		}
	}
	var wake <-chan struct{}
	if a.waker != nil {
		wake = a.waker.C()
	}

	a.watcher = watch.New(watch.Options{
		Interval:    cfg.Watch.Interval,
		Backoff:     cfg.Watch.Backoff,
		LogicFiles:  []string{cfg.Logic},
		PageFiles:   []string{cfg.Page},
		AssetDir:    cfg.Models.Dir,
		AssetExts:   cfg.Models.Extensions,
		AssetPrefix: assetPrefix,
		Wake:        wake,
		Reloader:    &engine.Reloader{Engine: a.engine, Target: p, Store: a.store, Logger: logger},
		Store:       a.store,
		Publisher:   a.hub,
		Logger:      logger,
	})

	a.server = server.New(server.Options{
		Addr:        cfg.Listen,
		PagePath:    cfg.Page,
		AssetPrefix: assetPrefix,
		Store:       a.store,
		Hub:         a.hub,
		Models:      a.watcher,
		Stats:       a.watcher,
		Logger:      logger,
	})
	return a, nil
}

// Startup evaluates the processing-logic script, publishes the initial
// model list and loads the initial mesh. None of these steps is fatal: a
// broken script keeps the configured strategy and a failed load leaves the
// store empty until a viewer asks for another mesh.
func (a *App) Startup() {
	log := a.logger

	if s, err := a.engine.EvalFile(a.cfg.Logic); err == nil {
		if err := a.pipeline.SetStrategy(*s); err != nil {
			log.Error("app: script strategy rejected", "error", err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Info("app: no processing-logic script, using configured strategy", "path", a.cfg.Logic)
	} else {
		log.Error("app: processing-logic script failed", "error", err)
	}

	if err := a.watcher.Seed(); err != nil {
		log.Warn("app: seeding watcher failed", "error", err)
	}

	file := a.cfg.Initial.File
	if file == "" {
		if models := a.watcher.Models(); len(models) > 0 {
			file = models[0]
		}
	}
	if file == "" {
		log.Warn("app: no models available", "dir", a.cfg.Models.Dir)
		return
	}
	if res := a.store.RequestLoad(file, a.cfg.Initial.LevelScalar); !res.OK() {
		log.Error("app: initial load failed", "file", file, "error", res.Err)
	}
}

// Run starts up, then serves and watches until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	a.Startup()
	go a.watcher.Run(ctx)
	return a.server.ListenAndServe(ctx)
}

// Close releases the filesystem watcher.
func (a *App) Close() {
	if a.waker != nil {
		if err := a.waker.Close(); err != nil {
			a.logger.Warn("app: closing filesystem watcher", "error", err)
		}
		a.waker = nil
	}
}
