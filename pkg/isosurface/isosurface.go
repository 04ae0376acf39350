// Package isosurface extracts the level set of a sampled distance field.
package isosurface

import (
	"fmt"

	"github.com/chazu/isoview/pkg/kernel"
)

// Isovalue returns the field value of the surface offset by levelScalar
// relative to a mesh whose largest extent is meshSize.
func Isovalue(levelScalar, meshSize float64) float64 {
	return levelScalar * meshSize
}

// Extract runs marching cubes on g at iso. The kernel winds faces with
// their normals toward decreasing field values; when flip is set every
// face has its index order reversed so front faces point outward
// (counter-clockwise) as the renderer expects.
//
// A field with no crossing yields an empty mesh and a nil error. The
// result carries no normals or colors.
func Extract(g *kernel.Grid, iso float64, k kernel.Kernel, flip bool) (*kernel.Mesh, error) {
	if g == nil {
		return nil, fmt.Errorf("isosurface: nil grid")
	}
	m, err := k.MarchingCubes(g, iso)
	if err != nil {
		return nil, fmt.Errorf("isosurface: marching cubes: %w", err)
	}
	if m == nil {
		m = &kernel.Mesh{}
	}
	m.Normals = nil
	m.Colors = nil
	if flip {
		FlipWinding(m)
	}
	return m, nil
}

// FlipWinding reverses the column order of every face in place.
func FlipWinding(m *kernel.Mesh) {
	for i, f := range m.Faces {
		m.Faces[i] = [3]int{f[2], f[1], f[0]}
	}
}
