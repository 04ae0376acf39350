// Package watch polls the processing-logic script, the viewer page and the
// asset directory for changes, and turns each change into a reload and a
// push notification.
//
// Typical usage:
//
//	w := watch.New(watch.Options{Reloader: r, Store: st, Publisher: hub})
//	w.Seed()
//	go w.Run(ctx)
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/isoview/pkg/loader"
	"github.com/chazu/isoview/pkg/notify"
	"github.com/chazu/isoview/pkg/store"
	"github.com/samber/lo"
)

// Reloader re-evaluates a processing-logic file and rebuilds the current
// mesh with it.
type Reloader interface {
	ReloadLogic(path string) error
}

// ReloaderFunc adapts a function to the Reloader interface.
type ReloaderFunc func(path string) error

// ReloadLogic calls f(path).
func (f ReloaderFunc) ReloadLogic(path string) error { return f(path) }

// MeshStore is the part of the mesh store the watcher needs.
type MeshStore interface {
	Identity() (file string, levelScalar float64, ok bool)
	Reload() store.LoadResult
}

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Backoff is the pause after a failed cycle. Default: 5s.
	Backoff time.Duration
	// LogicFiles trigger a script reload. Default: pipeline.zy.
	LogicFiles []string
	// PageFiles only notify viewers. Default: templates/viewer.html.
	PageFiles []string
	// AssetDir holds the meshes offered to viewers. Default: models.
	AssetDir string
	// AssetExts filters AssetDir. Default: .obj.
	AssetExts []string
	// AssetPrefix is the directory viewers see assets under, whatever
	// AssetDir is on disk. Default: models.
	AssetPrefix string
	// Wake triggers an immediate poll when it fires. Optional.
	Wake <-chan struct{}

	Reloader  Reloader
	Store     MeshStore
	Publisher notify.Publisher
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.LogicFiles == nil {
		o.LogicFiles = []string{"pipeline.zy"}
	}
	if o.PageFiles == nil {
		o.PageFiles = []string{"templates/viewer.html"}
	}
	if o.AssetDir == "" {
		o.AssetDir = "models"
	}
	if o.AssetExts == nil {
		o.AssetExts = []string{".obj"}
	}
	if o.AssetPrefix == "" {
		o.AssetPrefix = "models"
	}
	if o.Publisher == nil {
		o.Publisher = notify.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher tracks modification times and reacts to changes. Poll cycles are
// serialized; Models and Stats may be called from any goroutine.
type Watcher struct {
	opts Options

	pollMu  sync.Mutex
	seeded  bool
	tracked map[string]time.Time

	modelsMu sync.RWMutex
	models   []string

	polls   atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Polls   int64 `json:"polls"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// New creates a Watcher. Call Seed, then Run.
func New(opts Options) *Watcher {
	opts.defaults()
	return &Watcher{opts: opts, tracked: make(map[string]time.Time)}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Polls:   w.polls.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// Models returns a copy of the published asset names, sorted.
func (w *Watcher) Models() []string {
	w.modelsMu.RLock()
	defer w.modelsMu.RUnlock()
	return slices.Clone(w.models)
}

// AssetPath returns the viewer-facing path of an asset, e.g. models/cube.obj.
func (w *Watcher) AssetPath(name string) string {
	return path.Join(w.opts.AssetPrefix, name)
}

// Seed records every watched file currently present without reacting to
// any of them, and publishes the initial model list.
func (w *Watcher) Seed() error {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	for _, p := range w.sourceFiles() {
		if mod, ok := modTime(p); ok {
			w.tracked[p] = mod
		}
	}
	names, err := loader.ListAssets(w.opts.AssetDir, w.opts.AssetExts)
	if err != nil {
		return fmt.Errorf("watch: seed: %w", err)
	}
	for _, name := range names {
		if mod, ok := modTime(w.assetFile(name)); ok {
			w.tracked[w.assetFile(name)] = mod
		}
	}
	w.setModels(names)
	w.seeded = true
	w.opts.Logger.Info("watch: seeded", "files", len(w.tracked), "models", len(names))
	return nil
}

// Poll runs one detection cycle. A failed reload is logged and counted in
// Stats.Errors but does not fail the cycle; Poll only returns an error when
// the asset directory cannot be listed.
func (w *Watcher) Poll() error {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	w.polls.Add(1)

	for _, p := range w.opts.LogicFiles {
		if w.touched(p) {
			w.logicChanged(p)
		}
	}
	for _, p := range w.opts.PageFiles {
		if w.touched(p) {
			w.opts.Logger.Info("watch: page changed", "file", p)
			w.opts.Publisher.Publish(notify.EventCodeUpdated, notify.FileChange{File: filepath.ToSlash(p)})
		}
	}
	if err := w.pollAssets(); err != nil {
		w.errors.Add(1)
		return err
	}
	return nil
}

// Run blocks until ctx is cancelled, polling at opts.Interval or whenever
// opts.Wake fires. A failed or panicking cycle is logged and followed by
// opts.Backoff before the next one.
func (w *Watcher) Run(ctx context.Context) {
	log := w.opts.Logger

	w.pollMu.Lock()
	seeded := w.seeded
	w.pollMu.Unlock()
	if !seeded {
		if err := w.Seed(); err != nil {
			log.Warn("watch: initial seed failed", "error", err)
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	log.Info("watch: started", "interval", w.opts.Interval, "backoff", w.opts.Backoff,
		"logic", w.opts.LogicFiles, "pages", w.opts.PageFiles, "assets", w.opts.AssetDir)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return
		case <-ticker.C:
		case <-w.opts.Wake:
		}

		if err := w.safePoll(); err != nil {
			log.Error("watch: cycle failed", "error", err, "backoff", w.opts.Backoff)
			select {
			case <-ctx.Done():
				log.Info("watch: stopped")
				return
			case <-time.After(w.opts.Backoff):
			}
		}
	}
}

func (w *Watcher) safePoll() (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.errors.Add(1)
			err = fmt.Errorf("watch: poll panicked: %v", r)
		}
	}()
	return w.Poll()
}

// touched records the current mtime of p and reports whether it moved
// forward since the last observation. A file seen for the first time is
// recorded silently.
func (w *Watcher) touched(p string) bool {
	mod, ok := modTime(p)
	if !ok {
		return false
	}
	prev, known := w.tracked[p]
	w.tracked[p] = mod
	if !known || !mod.After(prev) {
		return false
	}
	w.changes.Add(1)
	return true
}

func (w *Watcher) logicChanged(p string) {
	log := w.opts.Logger.With("file", p)
	log.Info("watch: processing logic changed")

	if w.opts.Reloader != nil {
		start := time.Now()
		if err := w.opts.Reloader.ReloadLogic(p); err != nil {
			w.errors.Add(1)
			log.Error("watch: logic reload failed", "error", err)
		} else {
			w.reloads.Add(1)
			log.Info("watch: logic reloaded", "elapsed", time.Since(start))
		}
	}
	w.opts.Publisher.Publish(notify.EventCodeUpdated, notify.FileChange{File: filepath.ToSlash(p)})
}

func (w *Watcher) pollAssets() error {
	names, err := loader.ListAssets(w.opts.AssetDir, w.opts.AssetExts)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	known := w.Models()

	for _, name := range names {
		file := w.assetFile(name)
		if !lo.Contains(known, name) {
			mod, ok := modTime(file)
			if !ok {
				continue
			}
			w.tracked[file] = mod
			w.changes.Add(1)
			known = append(known, name)
			slices.Sort(known)
			w.setModels(known)
			w.opts.Logger.Info("watch: new model", "file", name)
			w.opts.Publisher.Publish(notify.EventModelListUpdated, notify.FileChange{File: w.AssetPath(name)})
			continue
		}
		if w.touched(file) {
			w.opts.Logger.Info("watch: model changed", "file", name)
			w.reloadIfCurrent(name)
		}
	}

	// Assets that disappeared leave the list without an announcement. Their
	// tracked entries stay; a file that comes back is announced again.
	if gone := lo.Without(known, names...); len(gone) > 0 {
		w.setModels(lo.Intersect(known, names))
		w.opts.Logger.Info("watch: models removed", "files", gone)
	}
	return nil
}

func (w *Watcher) reloadIfCurrent(name string) {
	if w.opts.Store == nil {
		return
	}
	file, _, ok := w.opts.Store.Identity()
	if !ok || file != name {
		return
	}
	if res := w.opts.Store.Reload(); !res.OK() {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: model reload failed", "file", name, "error", res.Err)
		return
	}
	w.reloads.Add(1)
}

func (w *Watcher) setModels(names []string) {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	w.modelsMu.Lock()
	w.models = sorted
	w.modelsMu.Unlock()
}

func (w *Watcher) sourceFiles() []string {
	return append(slices.Clone(w.opts.LogicFiles), w.opts.PageFiles...)
}

func (w *Watcher) assetFile(name string) string {
	return filepath.Join(w.opts.AssetDir, name)
}

func modTime(p string) (time.Time, bool) {
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}
