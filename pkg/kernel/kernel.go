// Package kernel defines the geometry types shared by the reconstruction
// pipeline and the abstract numeric kernel behind it. Implementations
// (currently sdfx) provide signed distance evaluation and marching cubes
// behind this interface, so the backend can be swapped without touching
// the rest of the system.
package kernel

import "fmt"

// Grid is a scalar field sampled on a regular lattice.
//
// Values and Corners share one flat ordering: the sample at lattice
// coordinate (i, j, k) lives at Index(i, j, k), i.e. X varies slowest and
// Z fastest.
type Grid struct {
	Nx, Ny, Nz int
	X, Y, Z    []float64
	Values     []float64
	Corners    [][3]float64
}

// Index returns the flat offset of lattice coordinate (i, j, k).
func (g *Grid) Index(i, j, k int) int {
	return (i*g.Ny+j)*g.Nz + k
}

// Len returns nx*ny*nz.
func (g *Grid) Len() int {
	return g.Nx * g.Ny * g.Nz
}

// Validate checks that axis lengths match the declared resolution and that
// the sample and corner arrays are exactly nx*ny*nz long.
func (g *Grid) Validate() error {
	if g.Nx < 2 || g.Ny < 2 || g.Nz < 2 {
		return fmt.Errorf("grid: resolution %dx%dx%d, need at least 2 per axis", g.Nx, g.Ny, g.Nz)
	}
	if len(g.X) != g.Nx || len(g.Y) != g.Ny || len(g.Z) != g.Nz {
		return fmt.Errorf("grid: axis lengths %d/%d/%d do not match resolution %dx%dx%d",
			len(g.X), len(g.Y), len(g.Z), g.Nx, g.Ny, g.Nz)
	}
	if len(g.Values) != g.Len() {
		return fmt.Errorf("grid: %d samples, want %d", len(g.Values), g.Len())
	}
	if g.Corners != nil && len(g.Corners) != g.Len() {
		return fmt.Errorf("grid: %d corners, want %d", len(g.Corners), g.Len())
	}
	return nil
}

// Kernel is the numeric backend of the reconstruction pipeline.
type Kernel interface {
	// SignedDistance returns the distance from each point to the surface of
	// m, positive outside and negative inside.
	SignedDistance(points [][3]float64, m *Mesh) ([]float64, error)

	// MarchingCubes extracts the surface where the grid field crosses iso.
	// Faces are wound so that their right-hand normal points toward
	// decreasing field values. A field with no crossing yields an empty
	// mesh and a nil error.
	MarchingCubes(g *Grid, iso float64) (*Mesh, error)
}
