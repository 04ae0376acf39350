// Package grid samples the signed distance of a mesh on a regular lattice.
package grid

import (
	"errors"
	"fmt"

	"github.com/chazu/isoview/pkg/kernel"
	"gonum.org/v1/gonum/floats"
)

// ErrDegenerate is returned when the mesh bounding box has zero extent
// along some axis, or the requested lattice is too coarse to sample.
var ErrDegenerate = errors.New("degenerate grid")

// Default sampling parameters.
const (
	DefaultResolution = 50
	DefaultExpand     = 1.5
)

// Options controls the lattice built around a mesh.
type Options struct {
	// Resolution is the number of samples along X, Y and Z.
	Resolution [3]int
	// Expand scales the bounding box minimum and maximum coordinates.
	Expand float64
}

// DefaultOptions returns a 50x50x50 lattice over the box scaled by 1.5.
func DefaultOptions() Options {
	return Options{
		Resolution: [3]int{DefaultResolution, DefaultResolution, DefaultResolution},
		Expand:     DefaultExpand,
	}
}

// Axes returns the sample coordinates along each axis for a mesh with the
// given bounding box. min and max are scaled independently by Expand, so
// the lattice is not centered on the box unless the box straddles the
// origin symmetrically.
func (o Options) Axes(min, max [3]float64) (x, y, z []float64, err error) {
	var axes [3][]float64
	for a := 0; a < 3; a++ {
		n := o.Resolution[a]
		if n < 2 {
			return nil, nil, nil, fmt.Errorf("%w: resolution %d on axis %d, need at least 2", ErrDegenerate, n, a)
		}
		if max[a]-min[a] == 0 {
			return nil, nil, nil, fmt.Errorf("%w: zero extent on axis %d", ErrDegenerate, a)
		}
		axes[a] = floats.Span(make([]float64, n), min[a]*o.Expand, max[a]*o.Expand)
	}
	return axes[0], axes[1], axes[2], nil
}

// Sample builds the lattice around m and stores the signed distance of
// every lattice point, positive outside. Corners and Values are laid out
// with X outermost and Z innermost.
func Sample(m *kernel.Mesh, opts Options, k kernel.Kernel) (*kernel.Grid, error) {
	if m == nil || m.IsEmpty() {
		return nil, fmt.Errorf("grid: %w: empty mesh", kernel.ErrInvalidMesh)
	}
	if opts.Expand <= 0 {
		return nil, fmt.Errorf("grid: expand factor %v must be positive", opts.Expand)
	}

	min, max := m.Bounds()
	x, y, z, err := opts.Axes(min, max)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}

	g := &kernel.Grid{
		Nx: len(x), Ny: len(y), Nz: len(z),
		X: x, Y: y, Z: z,
	}
	g.Corners = make([][3]float64, 0, g.Len())
	for _, px := range x {
		for _, py := range y {
			for _, pz := range z {
				g.Corners = append(g.Corners, [3]float64{px, py, pz})
			}
		}
	}

	g.Values, err = k.SignedDistance(g.Corners, m)
	if err != nil {
		return nil, fmt.Errorf("grid: signed distance: %w", err)
	}
	if len(g.Values) != len(g.Corners) {
		return nil, fmt.Errorf("grid: kernel returned %d distances for %d points", len(g.Values), len(g.Corners))
	}
	return g, nil
}
