package kernel

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMesh is returned when a mesh violates its structural invariants.
var ErrInvalidMesh = errors.New("invalid mesh")

// Mesh is an indexed triangle mesh.
// Faces index into Vertices. Normals and Colors are optional; when present
// they carry exactly one entry per vertex.
type Mesh struct {
	Name     string
	Vertices [][3]float64
	Faces    [][3]int
	Normals  [][3]float64 // nil when absent
	Colors   [][4]uint8   // RGBA, nil when absent
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Faces)
}

// IsEmpty returns true if the mesh has no faces.
func (m *Mesh) IsEmpty() bool {
	return len(m.Faces) == 0
}

// HasNormals reports whether per-vertex normals are attached.
func (m *Mesh) HasNormals() bool {
	return m.Normals != nil
}

// HasColors reports whether per-vertex colors are attached.
func (m *Mesh) HasColors() bool {
	return m.Colors != nil
}

// Validate checks that every face index is in range and that the optional
// per-vertex attributes match the vertex count.
func (m *Mesh) Validate() error {
	n := len(m.Vertices)
	for fi, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: face %d references vertex %d, have %d vertices", ErrInvalidMesh, fi, idx, n)
			}
		}
	}
	if m.Normals != nil && len(m.Normals) != n {
		return fmt.Errorf("%w: %d normals for %d vertices", ErrInvalidMesh, len(m.Normals), n)
	}
	if m.Colors != nil && len(m.Colors) != n {
		return fmt.Errorf("%w: %d colors for %d vertices", ErrInvalidMesh, len(m.Colors), n)
	}
	return nil
}

// Bounds returns the axis-aligned bounding box of the vertices.
// An empty mesh returns zero vectors.
func (m *Mesh) Bounds() (min, max [3]float64) {
	if len(m.Vertices) == 0 {
		return min, max
	}
	min = m.Vertices[0]
	max = m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for a := 0; a < 3; a++ {
			min[a] = math.Min(min[a], v[a])
			max[a] = math.Max(max[a], v[a])
		}
	}
	return min, max
}

// Size returns the largest extent of the bounding box.
func (m *Mesh) Size() float64 {
	min, max := m.Bounds()
	return math.Max(max[0]-min[0], math.Max(max[1]-min[1], max[2]-min[2]))
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Name:     m.Name,
		Vertices: append([][3]float64(nil), m.Vertices...),
		Faces:    append([][3]int(nil), m.Faces...),
	}
	if m.Normals != nil {
		c.Normals = append([][3]float64{}, m.Normals...)
	}
	if m.Colors != nil {
		c.Colors = append([][4]uint8{}, m.Colors...)
	}
	return c
}
