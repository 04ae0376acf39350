// Package pipeline turns a mesh asset and a level scalar into a render
// snapshot: load, optional level-set reconstruction, flatten, measure.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chazu/isoview/pkg/grid"
	"github.com/chazu/isoview/pkg/isosurface"
	"github.com/chazu/isoview/pkg/kernel"
	"github.com/chazu/isoview/pkg/loader"
	"github.com/chazu/isoview/pkg/normalize"
	"github.com/chazu/isoview/pkg/store"
)

// Strategy holds the tunable parameters of a reconstruction. It is
// produced by the processing-logic script and swapped in at runtime.
type Strategy struct {
	Name        string
	Grid        grid.Options
	FlipWinding bool
}

// DefaultStrategy samples a 50x50x50 lattice over the bounding box scaled
// by 1.5 and flips the extracted winding to outward.
func DefaultStrategy() Strategy {
	return Strategy{
		Name:        "default",
		Grid:        grid.DefaultOptions(),
		FlipWinding: true,
	}
}

// Validate checks that the strategy can drive the grid sampler.
func (s Strategy) Validate() error {
	for a, n := range s.Grid.Resolution {
		if n < 2 {
			return fmt.Errorf("pipeline: strategy %q: resolution %d on axis %d, need at least 2", s.Name, n, a)
		}
	}
	if s.Grid.Expand <= 0 {
		return fmt.Errorf("pipeline: strategy %q: expand %v must be positive", s.Name, s.Grid.Expand)
	}
	return nil
}

// Options tunes a Pipeline.
type Options struct {
	// Strategy is the initial strategy. Default: DefaultStrategy().
	Strategy *Strategy
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// Pipeline builds snapshots. It is safe for concurrent use; each Build
// runs its steps in sequence on the calling goroutine.
type Pipeline struct {
	loader loader.Loader
	kernel kernel.Kernel
	logger *slog.Logger

	mu       sync.RWMutex
	strategy Strategy
}

var _ store.Builder = (*Pipeline)(nil)

// New creates a pipeline reading assets through l and computing geometry
// with k.
func New(l loader.Loader, k kernel.Kernel, opts Options) (*Pipeline, error) {
	p := &Pipeline{loader: l, kernel: k, logger: opts.Logger, strategy: DefaultStrategy()}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if opts.Strategy != nil {
		if err := p.SetStrategy(*opts.Strategy); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Strategy returns the active strategy.
func (p *Pipeline) Strategy() Strategy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// SetStrategy validates s and makes it the active strategy. Builds already
// running keep the strategy they started with.
func (p *Pipeline) SetStrategy(s Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.strategy = s
	p.mu.Unlock()
	p.logger.Info("pipeline: strategy installed", "name", s.Name,
		"resolution", s.Grid.Resolution, "expand", s.Grid.Expand, "flip", s.FlipWinding)
	return nil
}

// Build loads file and produces its snapshot at levelScalar.
func (p *Pipeline) Build(file string, levelScalar float64) (*store.Snapshot, error) {
	log := p.logger.With("file", file, "levelScalar", levelScalar)

	src, err := p.loader.Load(file)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	log.Info("pipeline: mesh loaded", "faces", src.TriangleCount(), "size", src.Size())

	m, err := p.Reconstruct(src, levelScalar)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	buf := normalize.Flatten(m)
	log.Info("pipeline: flattened",
		"faces", m.TriangleCount(),
		"coords", len(buf.Vertices),
		"elapsed", time.Since(start))

	return &store.Snapshot{
		Buffer:      buf,
		Metrics:     normalize.Measure(m),
		File:        file,
		LevelScalar: levelScalar,
		FaceCount:   m.TriangleCount(),
		VertexCount: m.VertexCount(),
	}, nil
}

// Reconstruct returns the level-set surface of src offset by
// levelScalar times the largest extent of src. A zero levelScalar returns
// src itself without sampling.
func (p *Pipeline) Reconstruct(src *kernel.Mesh, levelScalar float64) (*kernel.Mesh, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if src.IsEmpty() {
		return nil, fmt.Errorf("pipeline: %w: %d vertices, no faces", kernel.ErrInvalidMesh, src.VertexCount())
	}
	if levelScalar == 0 {
		return src, nil
	}

	s := p.Strategy()
	log := p.logger.With("strategy", s.Name, "levelScalar", levelScalar)

	start := time.Now()
	g, err := grid.Sample(src, s.Grid, p.kernel)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	log.Debug("pipeline: grid sampled", "points", g.Len(), "elapsed", time.Since(start))

	start = time.Now()
	iso := isosurface.Isovalue(levelScalar, src.Size())
	m, err := isosurface.Extract(g, iso, p.kernel, s.FlipWinding)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	m.Name = src.Name
	log.Debug("pipeline: surface extracted", "iso", iso, "faces", m.TriangleCount(), "elapsed", time.Since(start))
	return m, nil
}
