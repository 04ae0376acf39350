// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"fmt"
	"math"

	"github.com/chazu/isoview/pkg/kernel"
	"github.com/deadsy/sdfx/render"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// weldTolerance is the vertex welding tolerance relative to the cell size.
const weldTolerance = 1e-6

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct{}

// New returns a new SdfxKernel.
func New() *SdfxKernel {
	return &SdfxKernel{}
}

// SignedDistance evaluates the signed distance from every point to the
// surface of m, positive outside and negative inside.
func (k *SdfxKernel) SignedDistance(points [][3]float64, m *kernel.Mesh) ([]float64, error) {
	s, err := NewMeshSDF(m)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = s.Evaluate(toVec(p))
	}
	return out, nil
}

// MarchingCubes extracts the iso crossing of the sampled field. The grid is
// wrapped as an sdf.SDF3 and rendered by sdfx's uniform marching cubes at
// the grid's own cell size; the resulting triangle soup is welded into an
// indexed mesh and every face is oriented against the field gradient.
func (k *SdfxKernel) MarchingCubes(g *kernel.Grid, iso float64) (*kernel.Mesh, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("sdfx: %w", err)
	}

	field := newGridField(g, iso)
	cells := max(g.Nx, g.Ny, g.Nz) - 1

	renderer := render.NewMarchingCubesUniform(cells)
	triangles := render.ToTriangles(field, renderer)

	inc := field.cellSize()
	w := newWelder(inc * weldTolerance)
	mesh := &kernel.Mesh{}

	for _, tri := range triangles {
		a, b, c := tri[0], tri[1], tri[2]

		// Orient so the right-hand normal points toward decreasing values.
		n := b.Sub(a).Cross(c.Sub(a))
		length := n.Length()
		if length == 0 {
			continue
		}
		n = n.MulScalar(1 / length)
		centroid := a.Add(b).Add(c).MulScalar(1.0 / 3.0)
		h := inc * 0.25
		ahead := field.Evaluate(centroid.Add(n.MulScalar(h)))
		behind := field.Evaluate(centroid.Sub(n.MulScalar(h)))
		if ahead > behind {
			b, c = c, b
		}

		i0 := w.index(mesh, a)
		i1 := w.index(mesh, b)
		i2 := w.index(mesh, c)
		if i0 == i1 || i1 == i2 || i0 == i2 {
			continue
		}
		mesh.Faces = append(mesh.Faces, [3]int{i0, i1, i2})
	}

	return mesh, nil
}

// welder merges coincident vertices of a triangle soup.
type welder struct {
	tol  float64
	seen map[[3]int64]int
}

func newWelder(tol float64) *welder {
	if tol <= 0 {
		tol = 1e-12
	}
	return &welder{tol: tol, seen: make(map[[3]int64]int)}
}

func (w *welder) key(p v3.Vec) [3]int64 {
	return [3]int64{
		int64(math.Round(p.X / w.tol)),
		int64(math.Round(p.Y / w.tol)),
		int64(math.Round(p.Z / w.tol)),
	}
}

func (w *welder) index(m *kernel.Mesh, p v3.Vec) int {
	k := w.key(p)
	if i, ok := w.seen[k]; ok {
		return i
	}
	i := len(m.Vertices)
	m.Vertices = append(m.Vertices, [3]float64{p.X, p.Y, p.Z})
	w.seen[k] = i
	return i
}

func toVec(p [3]float64) v3.Vec {
	return v3.Vec{X: p[0], Y: p[1], Z: p[2]}
}
