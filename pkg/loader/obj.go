package loader

import (
	"bufio"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/isoview/pkg/kernel"
	"github.com/pkg/errors"
)

// defaultColor is assigned to vertices without a color in a file where
// other vertices carry one.
var defaultColor = [4]uint8{102, 102, 102, 255}

// OBJ loads Wavefront OBJ files from a directory.
type OBJ struct {
	Dir string
}

var _ Loader = OBJ{}

// Load reads the asset called name from the loader's directory. Only plain
// file names are accepted; paths that escape the directory are rejected.
func (o OBJ) Load(name string) (*kernel.Mesh, error) {
	path, err := Resolve(o.Dir, name)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(name), ".obj") {
		return nil, errors.Wrapf(ErrUnsupported, "load %s", name)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	defer f.Close()

	m, err := DecodeOBJ(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	m.Name = name
	return m, nil
}

// objDecoder accumulates the state of one OBJ parse.
type objDecoder struct {
	line      int
	vertices  [][3]float64
	colors    [][4]uint8
	hasColor  bool
	normals   [][3]float64 // vn records
	faces     [][3]int
	cornerVN  [][3]int // vn index per face corner, -1 when absent
	anyNormal bool
}

// DecodeOBJ parses OBJ geometry from r. Supported records are v (with an
// optional r g b [a] color), vn and f; polygons are fan triangulated.
// Texture coordinates, groups and materials are ignored.
func DecodeOBJ(r io.Reader) (*kernel.Mesh, error) {
	dec := &objDecoder{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		dec.line++
		if err := dec.parseLine(sc.Text()); err != nil {
			return nil, errors.Wrapf(err, "line %d", dec.line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read obj")
	}
	return dec.mesh()
}

func (dec *objDecoder) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	switch fields[0] {
	case "v":
		return dec.parseVertex(fields[1:])
	case "vn":
		return dec.parseNormal(fields[1:])
	case "f":
		return dec.parseFace(fields[1:])
	}
	return nil
}

// v x y z [r g b [a]]
func (dec *objDecoder) parseVertex(fields []string) error {
	if len(fields) < 3 {
		return errors.New("vertex with fewer than 3 coordinates")
	}
	vals, err := parseFloats(fields)
	if err != nil {
		return err
	}
	dec.vertices = append(dec.vertices, [3]float64{vals[0], vals[1], vals[2]})

	c := defaultColor
	switch len(vals) {
	case 3, 4:
		// x y z or x y z w
	case 6, 7:
		c = toColor(vals[3:])
		dec.hasColor = true
	default:
		return errors.Errorf("vertex with %d values", len(vals))
	}
	dec.colors = append(dec.colors, c)
	return nil
}

// vn x y z
func (dec *objDecoder) parseNormal(fields []string) error {
	if len(fields) < 3 {
		return errors.New("normal with fewer than 3 coordinates")
	}
	vals, err := parseFloats(fields[:3])
	if err != nil {
		return err
	}
	dec.normals = append(dec.normals, [3]float64{vals[0], vals[1], vals[2]})
	return nil
}

// f v1[/vt1][/vn1] v2[/vt2][/vn2] v3[/vt3][/vn3] ...
func (dec *objDecoder) parseFace(fields []string) error {
	if len(fields) < 3 {
		return errors.Errorf("face with %d vertices", len(fields))
	}
	vs := make([]int, len(fields))
	ns := make([]int, len(fields))
	for i, f := range fields {
		parts := strings.Split(f, "/")
		v, err := resolveIndex(parts[0], len(dec.vertices))
		if err != nil {
			return errors.Wrap(err, "face vertex")
		}
		vs[i] = v
		ns[i] = -1
		if len(parts) >= 3 && parts[2] != "" {
			n, err := resolveIndex(parts[2], len(dec.normals))
			if err != nil {
				return errors.Wrap(err, "face normal")
			}
			ns[i] = n
			dec.anyNormal = true
		}
	}
	for i := 1; i+1 < len(vs); i++ {
		dec.faces = append(dec.faces, [3]int{vs[0], vs[i], vs[i+1]})
		dec.cornerVN = append(dec.cornerVN, [3]int{ns[0], ns[i], ns[i+1]})
	}
	return nil
}

// mesh assembles the decoded records. Normals are attached only when every
// face corner references one and each vertex maps to a single normal;
// otherwise they are left for the normalizer to compute.
func (dec *objDecoder) mesh() (*kernel.Mesh, error) {
	m := &kernel.Mesh{
		Vertices: dec.vertices,
		Faces:    dec.faces,
	}
	if dec.hasColor {
		m.Colors = dec.colors
	}
	if dec.anyNormal {
		m.Normals = dec.vertexNormals()
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(err, "decode obj")
	}
	return m, nil
}

func (dec *objDecoder) vertexNormals() [][3]float64 {
	out := make([][3]float64, len(dec.vertices))
	set := make([]bool, len(dec.vertices))
	for fi, f := range dec.faces {
		for c, v := range f {
			n := dec.cornerVN[fi][c]
			if n < 0 {
				return nil
			}
			if set[v] && out[v] != dec.normals[n] {
				return nil
			}
			out[v] = dec.normals[n]
			set[v] = true
		}
	}
	return out
}

// resolveIndex converts a 1-based (or negative, relative) OBJ index into a
// 0-based index into a list of n elements.
func resolveIndex(s string, n int) (int, error) {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "index %q", s)
	}
	var idx int
	switch {
	case val > 0:
		idx = val - 1
	case val < 0:
		idx = n + val
	default:
		return 0, errors.New("index 0")
	}
	if idx < 0 || idx >= n {
		return 0, errors.Errorf("index %d out of range (%d defined)", val, n)
	}
	return idx, nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "value %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}

// toColor converts r g b [a] floats to RGBA bytes. Values in 0..1 are
// scaled; anything larger is taken as already 0..255.
func toColor(vals []float64) [4]uint8 {
	scale := 255.0
	for _, v := range vals {
		if v > 1 {
			scale = 1
			break
		}
	}
	c := [4]uint8{0, 0, 0, 255}
	for i, v := range vals {
		c[i] = uint8(math.Round(math.Max(0, math.Min(255, v*scale))))
	}
	return c
}
