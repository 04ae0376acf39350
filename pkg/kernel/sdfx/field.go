package sdfx

import (
	"sort"

	"github.com/chazu/isoview/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// gridField exposes a sampled kernel.Grid as an sdf.SDF3 shifted by iso,
// so the zero level of the field is the requested isosurface. Inside the
// lattice values are trilinearly interpolated; outside they are clamped to
// the nearest boundary sample plus the distance to the lattice box, which
// closes surfaces cut by the lattice boundary.
type gridField struct {
	g   *kernel.Grid
	iso float64
	bb  sdf.Box3
}

var _ sdf.SDF3 = (*gridField)(nil)

func newGridField(g *kernel.Grid, iso float64) *gridField {
	return &gridField{
		g:   g,
		iso: iso,
		bb: sdf.Box3{
			Min: v3.Vec{X: g.X[0], Y: g.Y[0], Z: g.Z[0]},
			Max: v3.Vec{X: g.X[g.Nx-1], Y: g.Y[g.Ny-1], Z: g.Z[g.Nz-1]},
		},
	}
}

// BoundingBox returns the lattice box.
func (f *gridField) BoundingBox() sdf.Box3 {
	return f.bb
}

// Evaluate returns the interpolated field value minus iso.
func (f *gridField) Evaluate(p v3.Vec) float64 {
	i, tx := locate(f.g.X, p.X)
	j, ty := locate(f.g.Y, p.Y)
	k, tz := locate(f.g.Z, p.Z)

	v := f.g.Values
	at := func(di, dj, dk int) float64 {
		return v[f.g.Index(i+di, j+dj, k+dk)]
	}

	c00 := lerp(at(0, 0, 0), at(1, 0, 0), tx)
	c01 := lerp(at(0, 0, 1), at(1, 0, 1), tx)
	c10 := lerp(at(0, 1, 0), at(1, 1, 0), tx)
	c11 := lerp(at(0, 1, 1), at(1, 1, 1), tx)
	c0 := lerp(c00, c10, ty)
	c1 := lerp(c01, c11, ty)
	value := lerp(c0, c1, tz)

	return value - f.iso + f.outside(p)
}

// outside returns the distance from p to the lattice box, 0 inside it.
func (f *gridField) outside(p v3.Vec) float64 {
	d := v3.Vec{
		X: max(f.bb.Min.X-p.X, 0, p.X-f.bb.Max.X),
		Y: max(f.bb.Min.Y-p.Y, 0, p.Y-f.bb.Max.Y),
		Z: max(f.bb.Min.Z-p.Z, 0, p.Z-f.bb.Max.Z),
	}
	return d.Length()
}

// cellSize returns the lattice spacing along the longest axis, which is
// also the cell size sdfx uses when rendering at max(n)-1 cells.
func (f *gridField) cellSize() float64 {
	size := f.bb.Max.Sub(f.bb.Min)
	longest := max(size.X, size.Y, size.Z)
	cells := max(f.g.Nx, f.g.Ny, f.g.Nz) - 1
	return longest / float64(cells)
}

// locate returns the cell index i with axis[i] <= x <= axis[i+1] and the
// fractional position of x inside it, clamped to the axis range.
func locate(axis []float64, x float64) (int, float64) {
	n := len(axis)
	if x <= axis[0] {
		return 0, 0
	}
	if x >= axis[n-1] {
		return n - 2, 1
	}
	i := sort.SearchFloat64s(axis, x) - 1
	i = min(max(i, 0), n-2)
	span := axis[i+1] - axis[i]
	if span == 0 {
		return i, 0
	}
	return i, (x - axis[i]) / span
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
