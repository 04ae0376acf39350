package engine

import (
	"fmt"
	"strings"

	"github.com/chazu/isoview/pkg/pipeline"
	zygo "github.com/glycerine/zygomys/zygo"
)

// kwPrefix marks keyword names rewritten by preprocessSource.
const kwPrefix = "__kw_"

// preprocessSource rewrites script source into something zygomys accepts:
//
//   - :keyword becomes the string literal "__kw_keyword", so builtins can
//     tell keywords apart without registering them as globals.
//   - flip-winding style identifiers become flip_winding; zygomys reads a
//     hyphen as the subtraction operator.
//   - ; line comments become // comments.
//
// String literals are copied through untouched.
func preprocessSource(source string) string {
	var out strings.Builder
	out.Grow(len(source) + len(source)/4)

	b := source
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == '"' || c == '`':
			j := skipString(b, i)
			out.WriteString(b[i:j])
			i = j

		case c == ';':
			out.WriteString("//")
			for i < len(b) && b[i] == ';' {
				i++
			}
			j := strings.IndexByte(b[i:], '\n')
			if j < 0 {
				j = len(b) - i
			}
			out.WriteString(b[i : i+j])
			i += j

		case c == ':' && i+1 < len(b) && b[i+1] == '=':
			out.WriteString(":=")
			i += 2

		case c == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			out.WriteString(`"` + kwPrefix + b[i+1:j] + `"`)
			i = j

		case c == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			out.WriteByte('_')
			i++

		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

// skipString returns the index just past the string literal starting at i.
// Double-quoted literals honour backslash escapes; backtick literals do not.
func skipString(b string, i int) int {
	quote := b[i]
	j := i + 1
	for j < len(b) && b[j] != quote {
		if quote == '"' && b[j] == '\\' {
			j++
		}
		j++
	}
	if j < len(b) {
		j++
	}
	if j > len(b) {
		j = len(b)
	}
	return j
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isIdentChar(c) || c == '-'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// sexpStrategy wraps a pipeline.Strategy so reconstruct has a printable
// return value.
type sexpStrategy struct {
	s pipeline.Strategy
}

func (s *sexpStrategy) SexpString(ps *zygo.PrintState) string {
	r := s.s.Grid.Resolution
	return fmt.Sprintf("(strategy %q %dx%dx%d :expand %g :flip-winding %t)",
		s.s.Name, r[0], r[1], r[2], s.s.Grid.Expand, s.s.FlipWinding)
}
func (s *sexpStrategy) Type() *zygo.RegisteredType { return nil }

// isKW reports whether s is a preprocessed keyword and returns its name.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

type kwArgs struct {
	kw         map[string]zygo.Sexp
	order      []string
	positional []zygo.Sexp
}

// parseArgs separates keyword and positional arguments. A trailing
// keyword without a value is recorded with SexpNull.
func parseArgs(args []zygo.Sexp) kwArgs {
	res := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			res.positional = append(res.positional, args[i])
			continue
		}
		val := zygo.Sexp(zygo.SexpNull)
		if i+1 < len(args) {
			val = args[i+1]
			i++
		}
		if _, seen := res.kw[name]; !seen {
			res.order = append(res.order, name)
		}
		res.kw[name] = val
	}
	return res
}

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

func toInt(s zygo.Sexp) (int, error) {
	if v, ok := s.(*zygo.SexpInt); ok {
		return int(v.Val), nil
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

func toBool(s zygo.Sexp) (bool, error) {
	if v, ok := s.(*zygo.SexpBool); ok {
		return v.Val, nil
	}
	return false, fmt.Errorf("expected true or false, got %T (%s)", s, s.SexpString(nil))
}

// sexpListToSlice converts a Lisp list or array to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// toResolution accepts a single integer for a cubic lattice or a list of
// three integers for per-axis sample counts.
func toResolution(s zygo.Sexp) ([3]int, error) {
	if n, err := toInt(s); err == nil {
		return [3]int{n, n, n}, nil
	}
	items, err := sexpListToSlice(s)
	if err != nil {
		return [3]int{}, fmt.Errorf("expected integer or [nx ny nz]: %w", err)
	}
	if len(items) != 3 {
		return [3]int{}, fmt.Errorf("expected 3 sample counts, got %d", len(items))
	}
	var r [3]int
	for i, item := range items {
		if r[i], err = toInt(item); err != nil {
			return [3]int{}, fmt.Errorf("axis %d: %w", i, err)
		}
	}
	return r, nil
}

// registerBuiltins installs the script builtins into env. Each call to
// reconstruct overwrites *s, so the last call in a script wins.
//
// Source must go through preprocessSource first so keywords arrive as
// recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, s *pipeline.Strategy) {

	// (reconstruct :name "fine" :resolution 64 :expand 1.5 :flip-winding true)
	// (reconstruct :resolution [40 40 80])
	env.AddFunction("reconstruct", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) > 0 {
			return zygo.SexpNull, fmt.Errorf("reconstruct: unexpected positional argument %s", pa.positional[0].SexpString(nil))
		}

		st := pipeline.DefaultStrategy()
		for _, kw := range pa.order {
			v := pa.kw[kw]
			var err error
			switch kw {
			case "name":
				st.Name, err = toString(v)
			case "resolution":
				st.Grid.Resolution, err = toResolution(v)
			case "expand":
				st.Grid.Expand, err = toFloat64(v)
			case "flip-winding":
				st.FlipWinding, err = toBool(v)
			default:
				err = fmt.Errorf("unknown keyword")
			}
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("reconstruct: %s: %w", kw, err)
			}
		}
		if err := st.Validate(); err != nil {
			return zygo.SexpNull, fmt.Errorf("reconstruct: %w", err)
		}

		*s = st
		return &sexpStrategy{s: st}, nil
	})

	// (default-resolution) => 50
	env.AddFunction("default_resolution", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return &zygo.SexpInt{Val: int64(pipeline.DefaultStrategy().Grid.Resolution[0])}, nil
	})
}
