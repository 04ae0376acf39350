// Package store holds the live mesh snapshot shared by request handlers,
// viewers and the change watcher.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chazu/isoview/pkg/normalize"
	"github.com/chazu/isoview/pkg/notify"
)

// ErrNoIdentity is returned by Reload when no mesh has been requested yet.
var ErrNoIdentity = errors.New("no mesh requested")

// Snapshot is a fully built render buffer together with its metrics and
// the request that produced it.
type Snapshot struct {
	normalize.Buffer
	normalize.Metrics

	File        string  `json:"file"`
	LevelScalar float64 `json:"levelScalar"`
	FaceCount   int     `json:"faceCount"`
	VertexCount int     `json:"vertexCount"`
	Generation  uint64  `json:"generation"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Buffer = s.Buffer.Clone()
	return &c
}

// Builder produces a snapshot for a (file, levelScalar) request.
type Builder interface {
	Build(file string, levelScalar float64) (*Snapshot, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(file string, levelScalar float64) (*Snapshot, error)

// Build calls f(file, levelScalar).
func (f BuilderFunc) Build(file string, levelScalar float64) (*Snapshot, error) {
	return f(file, levelScalar)
}

// LoadResult reports the outcome of a load. Exactly one of Snapshot and
// Err is set.
type LoadResult struct {
	Snapshot *Snapshot
	Err      error
}

// OK reports whether the load succeeded.
func (r LoadResult) OK() bool {
	return r.Err == nil
}

// Options tunes a Store.
type Options struct {
	// Publisher receives mesh_updated after every successful load.
	// Default: notify.Discard.
	Publisher notify.Publisher
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Publisher == nil {
		o.Publisher = notify.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store owns the current snapshot. Readers always receive copies; a
// snapshot is only ever replaced whole. It is safe for concurrent use.
//
// Builds are not serialized: when two loads overlap, the one that finishes
// last is the one left installed. Installing and publishing happen as one
// step, so subscribers see mesh_updated in generation order and the last
// event always carries the installed snapshot.
type Store struct {
	builder Builder
	opts    Options

	pubMu sync.Mutex

	mu         sync.Mutex
	current    *Snapshot
	generation uint64
	file       string
	level      float64
	hasID      bool
}

// New creates an empty store that builds snapshots with b.
func New(b Builder, opts Options) *Store {
	opts.defaults()
	return &Store{builder: b, opts: opts}
}

// Replace installs snap, discarding the previous snapshot, and returns the
// generation stamped on it. The store keeps its own copy.
func (s *Store) Replace(snap *Snapshot) uint64 {
	c := snap.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	c.Generation = s.generation
	s.current = c
	return s.generation
}

// Current returns a copy of the live snapshot, or false if nothing has been
// installed yet.
func (s *Store) Current() (Snapshot, bool) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return Snapshot{}, false
	}
	// Installed snapshots are never mutated, so copying outside the lock
	// is safe.
	return *cur.Clone(), true
}

// Generation returns the number of snapshots installed so far.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Identity returns the most recently requested (file, levelScalar).
func (s *Store) Identity() (file string, levelScalar float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file, s.level, s.hasID
}

// SetIdentity records (file, levelScalar) as the current request without
// loading it.
func (s *Store) SetIdentity(file string, levelScalar float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file, s.level, s.hasID = file, levelScalar, true
}

// RequestLoad records (file, levelScalar) as the current request, builds
// it and installs the result. On success mesh_updated is published with
// the new snapshot. On failure, including a panic in the builder, the
// installed snapshot is left untouched.
func (s *Store) RequestLoad(file string, levelScalar float64) LoadResult {
	s.SetIdentity(file, levelScalar)
	return s.load(file, levelScalar)
}

// Reload rebuilds the most recently requested mesh.
func (s *Store) Reload() LoadResult {
	file, level, ok := s.Identity()
	if !ok {
		return LoadResult{Err: ErrNoIdentity}
	}
	return s.load(file, level)
}

// EnsureLoaded returns the live snapshot, loading the most recently
// requested mesh first if nothing is installed.
func (s *Store) EnsureLoaded() (Snapshot, error) {
	if snap, ok := s.Current(); ok {
		return snap, nil
	}
	res := s.Reload()
	if !res.OK() {
		return Snapshot{}, res.Err
	}
	return *res.Snapshot, nil
}

func (s *Store) load(file string, levelScalar float64) LoadResult {
	log := s.opts.Logger
	start := time.Now()

	snap, err := s.build(file, levelScalar)
	if err != nil {
		log.Error("store: load failed", "file", file, "levelScalar", levelScalar, "error", err)
		return LoadResult{Err: err}
	}

	snap.File = file
	snap.LevelScalar = levelScalar

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	snap.Generation = s.Replace(snap)
	log.Info("store: mesh installed",
		"file", file,
		"levelScalar", levelScalar,
		"faces", snap.FaceCount,
		"records", snap.Records(),
		"generation", snap.Generation,
		"elapsed", time.Since(start))

	s.opts.Publisher.Publish(notify.EventMeshUpdated, snap.Clone())
	return LoadResult{Snapshot: snap}
}

func (s *Store) build(file string, levelScalar float64) (snap *Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap, err = nil, fmt.Errorf("store: build %s panicked: %v", file, r)
		}
	}()
	snap, err = s.builder.Build(file, levelScalar)
	if err == nil && snap == nil {
		err = fmt.Errorf("store: build %s returned no snapshot", file)
	}
	return snap, err
}
