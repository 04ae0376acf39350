// Package normalize converts indexed meshes into flat float32 render
// buffers and computes their summary metrics.
package normalize

import (
	"math"

	"github.com/chazu/isoview/pkg/kernel"
	"gonum.org/v1/gonum/spatial/r3"
)

// volumeEpsilon is the signed volume below which the center of mass falls
// back to the area-weighted surface centroid.
const volumeEpsilon = 1e-12

// Buffer is a non-indexed vertex stream ready for upload to a renderer.
// Each face contributes three consecutive records in face order.
type Buffer struct {
	Vertices []float32 `json:"vertices"` // 3 per record
	Normals  []float32 `json:"normals"`  // 3 per record
	Colors   []float32 `json:"colors"`   // RGBA in 0..1, 4 per record, nil when the mesh has no colors
}

// Records returns the number of vertex records in the buffer.
func (b *Buffer) Records() int {
	return len(b.Vertices) / 3
}

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	c := Buffer{
		Vertices: append(make([]float32, 0, len(b.Vertices)), b.Vertices...),
		Normals:  append(make([]float32, 0, len(b.Normals)), b.Normals...),
	}
	if b.Colors != nil {
		c.Colors = append([]float32{}, b.Colors...)
	}
	return c
}

// Metrics summarizes the geometry of a mesh.
type Metrics struct {
	IsWatertight bool       `json:"isWatertight"`
	Volume       float64    `json:"volume"`
	Area         float64    `json:"area"`
	CenterMass   [3]float64 `json:"center_mass"`
}

func vec(p [3]float64) r3.Vec {
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}

func triangle(m *kernel.Mesh, f [3]int) r3.Triangle {
	return r3.Triangle{vec(m.Vertices[f[0]]), vec(m.Vertices[f[1]]), vec(m.Vertices[f[2]])}
}

// VertexNormals returns unit per-vertex normals accumulated from the
// area-weighted normals of the adjacent faces. Vertices that belong to no
// face, or whose adjacent normals cancel out, get a zero normal.
func VertexNormals(m *kernel.Mesh) [][3]float64 {
	acc := make([]r3.Vec, len(m.Vertices))
	for _, f := range m.Faces {
		// Triangle.Normal has magnitude twice the face area.
		n := triangle(m, f).Normal()
		for _, idx := range f {
			acc[idx] = r3.Add(acc[idx], n)
		}
	}

	normals := make([][3]float64, len(m.Vertices))
	for i, n := range acc {
		length := r3.Norm(n)
		if length == 0 {
			continue
		}
		u := r3.Scale(1/length, n)
		normals[i] = [3]float64{u.X, u.Y, u.Z}
	}
	return normals
}

// Flatten expands m into a render buffer. Missing normals are computed
// with VertexNormals; m itself is not modified.
func Flatten(m *kernel.Mesh) Buffer {
	normals := m.Normals
	if normals == nil {
		normals = VertexNormals(m)
	}

	records := 3 * len(m.Faces)
	buf := Buffer{
		Vertices: make([]float32, 0, 3*records),
		Normals:  make([]float32, 0, 3*records),
	}
	if m.Colors != nil {
		buf.Colors = make([]float32, 0, 4*records)
	}

	for _, f := range m.Faces {
		for _, idx := range f {
			p := m.Vertices[idx]
			n := normals[idx]
			buf.Vertices = append(buf.Vertices, float32(p[0]), float32(p[1]), float32(p[2]))
			buf.Normals = append(buf.Normals, float32(n[0]), float32(n[1]), float32(n[2]))
			if m.Colors != nil {
				c := m.Colors[idx]
				buf.Colors = append(buf.Colors,
					float32(c[0])/255, float32(c[1])/255, float32(c[2])/255, float32(c[3])/255)
			}
		}
	}
	return buf
}

// Measure computes the summary metrics of m in float64.
func Measure(m *kernel.Mesh) Metrics {
	var (
		met      Metrics
		volume   float64
		weighted r3.Vec // sum of tetrahedron centroids times signed volume
		surface  r3.Vec // sum of face centroids times area
	)
	for _, f := range m.Faces {
		t := triangle(m, f)
		area := r3.Norm(t.Normal()) / 2
		met.Area += area
		surface = r3.Add(surface, r3.Scale(area, t.Centroid()))

		// Tetrahedron spanned by the origin and the face.
		v := r3.Dot(t[0], r3.Cross(t[1], t[2])) / 6
		volume += v
		// The origin contributes nothing to the tetrahedron centroid sum.
		c := r3.Scale(0.25, r3.Add(r3.Add(t[0], t[1]), t[2]))
		weighted = r3.Add(weighted, r3.Scale(v, c))
	}
	met.Volume = volume

	switch {
	case math.Abs(volume) > volumeEpsilon:
		c := r3.Scale(1/volume, weighted)
		met.CenterMass = [3]float64{c.X, c.Y, c.Z}
	case met.Area > 0:
		c := r3.Scale(1/met.Area, surface)
		met.CenterMass = [3]float64{c.X, c.Y, c.Z}
	}

	met.IsWatertight = IsWatertight(m)
	return met
}

// IsWatertight reports whether every edge is shared by exactly two faces
// that traverse it in opposite directions. A mesh with no faces is not
// watertight.
func IsWatertight(m *kernel.Mesh) bool {
	if len(m.Faces) == 0 {
		return false
	}
	directed := make(map[[2]int]int, 3*len(m.Faces))
	for _, f := range m.Faces {
		for c := 0; c < 3; c++ {
			directed[[2]int{f[c], f[(c+1)%3]}]++
		}
	}
	for e, n := range directed {
		if n != 1 || directed[[2]int{e[1], e[0]}] != 1 {
			return false
		}
	}
	return true
}
