package sdfx

import (
	"fmt"
	"math"

	"github.com/chazu/isoview/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/dhconnelly/rtreego"
)

// rtree node fan-out.
const (
	rtreeMinChildren = 4
	rtreeMaxChildren = 16
)

// boxPad keeps triangle bounding rectangles non-degenerate for flat
// (axis-aligned) triangles.
const boxPad = 1e-9

// feature identifies the part of a triangle that is closest to a query point.
type feature int

const (
	featureFace feature = iota
	featureEdge
	featureVertex
)

// MeshSDF is the signed distance field of a closed triangle mesh.
//
// Distances come from an exact nearest-triangle query accelerated by an
// R-tree; the sign comes from the angle-weighted pseudonormal of the
// closest feature (face, edge or vertex), so a point is outside when it
// lies on the side the pseudonormal points to.
type MeshSDF struct {
	verts    []v3.Vec
	faces    [][3]int
	faceNorm []v3.Vec
	vertNorm []v3.Vec
	edgeNorm map[[2]int]v3.Vec
	tree     *rtreego.Rtree
	bb       sdf.Box3
}

var _ sdf.SDF3 = (*MeshSDF)(nil)

// triangleItem is an R-tree entry for one face.
type triangleItem struct {
	face int
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (t *triangleItem) Bounds() rtreego.Rect {
	return t.rect
}

// NewMeshSDF builds the distance field for m. Degenerate (zero-area)
// faces are ignored. The mesh must contain at least one usable face.
func NewMeshSDF(m *kernel.Mesh) (*MeshSDF, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("sdfx: %w", err)
	}

	s := &MeshSDF{
		verts:    make([]v3.Vec, len(m.Vertices)),
		vertNorm: make([]v3.Vec, len(m.Vertices)),
		edgeNorm: make(map[[2]int]v3.Vec),
	}
	for i, p := range m.Vertices {
		s.verts[i] = toVec(p)
	}

	var items []rtreego.Spatial
	for _, f := range m.Faces {
		a, b, c := s.verts[f[0]], s.verts[f[1]], s.verts[f[2]]
		n := b.Sub(a).Cross(c.Sub(a))
		length := n.Length()
		if length == 0 {
			continue
		}
		n = n.MulScalar(1 / length)

		fi := len(s.faces)
		s.faces = append(s.faces, f)
		s.faceNorm = append(s.faceNorm, n)

		// Angle-weighted vertex pseudonormals.
		for corner := 0; corner < 3; corner++ {
			p := s.verts[f[corner]]
			u := s.verts[f[(corner+1)%3]].Sub(p)
			w := s.verts[f[(corner+2)%3]].Sub(p)
			s.vertNorm[f[corner]] = s.vertNorm[f[corner]].Add(n.MulScalar(angle(u, w)))
		}

		// Edge pseudonormals: sum of the adjacent face normals.
		for corner := 0; corner < 3; corner++ {
			key := edgeKey(f[corner], f[(corner+1)%3])
			s.edgeNorm[key] = s.edgeNorm[key].Add(n)
		}

		rect, err := triangleRect(a, b, c)
		if err != nil {
			return nil, fmt.Errorf("sdfx: face %d bounds: %w", fi, err)
		}
		items = append(items, &triangleItem{face: fi, rect: rect})
	}

	if len(s.faces) == 0 {
		return nil, fmt.Errorf("sdfx: %w: no faces with non-zero area", kernel.ErrInvalidMesh)
	}

	s.tree = rtreego.NewTree(3, rtreeMinChildren, rtreeMaxChildren, items...)

	lo, hi := m.Bounds()
	s.bb = sdf.Box3{Min: toVec(lo), Max: toVec(hi)}
	return s, nil
}

// BoundingBox returns the bounding box of the mesh.
func (s *MeshSDF) BoundingBox() sdf.Box3 {
	return s.bb
}

// Evaluate returns the signed distance from p to the mesh surface.
func (s *MeshSDF) Evaluate(p v3.Vec) float64 {
	dist, q, normal := s.nearest(p)
	if dist == 0 {
		return 0
	}
	if p.Sub(q).Dot(normal) < 0 {
		return -dist
	}
	return dist
}

// nearest returns the distance to the closest surface point q together
// with the pseudonormal of the feature q lies on.
func (s *MeshSDF) nearest(p v3.Vec) (float64, v3.Vec, v3.Vec) {
	pt := rtreego.Point{p.X, p.Y, p.Z}

	// The triangle with the nearest bounding box gives an upper bound on
	// the true distance; every closer triangle must have a bounding box
	// inside the cube of that radius.
	seed := s.tree.NearestNeighbor(pt).(*triangleItem)
	bestDist, bestQ, bestN := s.closest(p, seed.face)

	r := bestDist + boxPad
	cube, err := rtreego.NewRect(
		rtreego.Point{p.X - r, p.Y - r, p.Z - r},
		[]float64{2 * r, 2 * r, 2 * r},
	)
	if err != nil {
		return bestDist, bestQ, bestN
	}
	for _, item := range s.tree.SearchIntersect(cube) {
		fi := item.(*triangleItem).face
		if fi == seed.face {
			continue
		}
		d, q, n := s.closest(p, fi)
		if d < bestDist {
			bestDist, bestQ, bestN = d, q, n
		}
	}
	return bestDist, bestQ, bestN
}

// closest returns the distance from p to face fi, the closest point and
// the pseudonormal of the closest feature.
func (s *MeshSDF) closest(p v3.Vec, fi int) (float64, v3.Vec, v3.Vec) {
	f := s.faces[fi]
	q, kind, c0, c1 := closestOnTriangle(p, s.verts[f[0]], s.verts[f[1]], s.verts[f[2]])

	var n v3.Vec
	switch kind {
	case featureVertex:
		n = s.vertNorm[f[c0]]
	case featureEdge:
		n = s.edgeNorm[edgeKey(f[c0], f[c1])]
	default:
		n = s.faceNorm[fi]
	}
	return p.Sub(q).Length(), q, n
}

// closestOnTriangle finds the point of triangle abc closest to p and
// reports which feature it lies on. For vertex features c0 is the corner
// (0..2); for edge features c0 and c1 are the edge's corners.
func closestOnTriangle(p, a, b, c v3.Vec) (v3.Vec, feature, int, int) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := p.Sub(a)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a, featureVertex, 0, 0
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b, featureVertex, 1, 1
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return a.Add(ab.MulScalar(v)), featureEdge, 0, 1
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c, featureVertex, 2, 2
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return a.Add(ac.MulScalar(w)), featureEdge, 0, 2
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return b.Add(c.Sub(b).MulScalar(w)), featureEdge, 1, 2
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return a.Add(ab.MulScalar(v)).Add(ac.MulScalar(w)), featureFace, 0, 0
}

// triangleRect returns the padded bounding rectangle of a triangle.
func triangleRect(a, b, c v3.Vec) (rtreego.Rect, error) {
	lo := v3.Vec{X: min(a.X, b.X, c.X), Y: min(a.Y, b.Y, c.Y), Z: min(a.Z, b.Z, c.Z)}
	hi := v3.Vec{X: max(a.X, b.X, c.X), Y: max(a.Y, b.Y, c.Y), Z: max(a.Z, b.Z, c.Z)}
	return rtreego.NewRect(
		rtreego.Point{lo.X - boxPad, lo.Y - boxPad, lo.Z - boxPad},
		[]float64{hi.X - lo.X + 2*boxPad, hi.Y - lo.Y + 2*boxPad, hi.Z - lo.Z + 2*boxPad},
	)
}

// angle returns the angle between u and w in radians.
func angle(u, w v3.Vec) float64 {
	lu, lw := u.Length(), w.Length()
	if lu == 0 || lw == 0 {
		return 0
	}
	cos := u.Dot(w) / (lu * lw)
	return math.Acos(math.Max(-1, math.Min(1, cos)))
}

// edgeKey returns an orientation-independent key for edge (i, j).
func edgeKey(i, j int) [2]int {
	if i > j {
		i, j = j, i
	}
	return [2]int{i, j}
}
