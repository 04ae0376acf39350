package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chazu/isoview/pkg/pipeline"
	"github.com/chazu/isoview/pkg/store"
)

// StrategySetter receives strategies produced by a script.
type StrategySetter interface {
	SetStrategy(s pipeline.Strategy) error
}

// MeshReloader rebuilds the currently requested mesh.
type MeshReloader interface {
	Reload() store.LoadResult
}

// Reloader re-evaluates the processing-logic script when it changes on
// disk, installs the resulting strategy and rebuilds the current mesh.
type Reloader struct {
	Engine *Engine
	Target StrategySetter
	Store  MeshReloader
	Logger *slog.Logger
}

// ReloadLogic evaluates the script at path. On any error the active
// strategy and the installed snapshot are left as they were. A store with
// nothing requested yet is not an error.
func (r *Reloader) ReloadLogic(path string) error {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	s, err := r.Engine.EvalFile(path)
	if err != nil {
		log.Error("engine: script rejected", "path", path, "error", err)
		return err
	}
	if err := r.Target.SetStrategy(*s); err != nil {
		return fmt.Errorf("engine: %s: %w", path, err)
	}

	if r.Store == nil {
		return nil
	}
	res := r.Store.Reload()
	if errors.Is(res.Err, store.ErrNoIdentity) {
		log.Info("engine: strategy installed, no mesh to rebuild", "path", path)
		return nil
	}
	if !res.OK() {
		return fmt.Errorf("engine: rebuild after %s: %w", path, res.Err)
	}
	return nil
}
