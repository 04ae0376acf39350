package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/isoview/pkg/pipeline"
	"github.com/chazu/isoview/pkg/store"
)

func TestEvaluateEmptyString(t *testing.T) {
	eng := NewEngine()

	for _, src := range []string{"", "   \n\t  \n  "} {
		s, evalErrs, err := eng.Evaluate(src)
		if err != nil {
			t.Fatalf("unexpected fatal error: %v", err)
		}
		if len(evalErrs) > 0 {
			t.Fatalf("unexpected eval errors: %v", evalErrs)
		}
		if s == nil {
			t.Fatal("expected non-nil strategy")
		}
		if *s != pipeline.DefaultStrategy() {
			t.Errorf("Evaluate(%q) = %+v, want default strategy", src, *s)
		}
	}
}

func TestEvaluateWithoutReconstruct(t *testing.T) {
	eng := NewEngine()

	source := `
(def x 10)
(def y 20)
(+ x y)
`
	s, evalErrs, err := eng.Evaluate(source)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if len(evalErrs) > 0 {
		t.Fatalf("unexpected eval errors: %v", evalErrs)
	}
	if s == nil || *s != pipeline.DefaultStrategy() {
		t.Errorf("strategy = %+v, want default", s)
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	eng := NewEngine()

	s, evalErrs, err := eng.Evaluate("(+ 1 2")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil strategy on syntax error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error for syntax error")
	}
	if evalErrs[0].Message == "" {
		t.Error("eval error message should not be empty")
	}
}

func TestEvaluateUndefinedSymbol(t *testing.T) {
	eng := NewEngine()

	s, evalErrs, err := eng.Evaluate("(+ 1 undefined-symbol)")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil strategy on eval error")
	}
	if len(evalErrs) == 0 {
		t.Fatal("expected at least one eval error for undefined symbol")
	}
}

func TestEvalErrorImplementsError(t *testing.T) {
	e := EvalError{Line: 5, Message: "something went wrong"}
	s := e.Error()
	if !strings.Contains(s, "line 5") {
		t.Errorf("Error() should contain line info, got: %s", s)
	}
	if !strings.Contains(s, "something went wrong") {
		t.Errorf("Error() should contain message, got: %s", s)
	}

	e2 := EvalError{Message: "no location"}
	if strings.Contains(e2.Error(), "line") {
		t.Errorf("Error() with no line should not contain 'line', got: %s", e2.Error())
	}

	se := &ScriptError{Path: "pipeline.zy", Errors: []EvalError{e, e2}}
	if got, want := se.Error(), "pipeline.zy: line 5: something went wrong; no location"; got != want {
		t.Errorf("ScriptError.Error() = %q, want %q", got, want)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	eng := NewEngine()

	src := `(reconstruct :name "fine" :resolution 64)`
	for i := 0; i < 5; i++ {
		s, evalErrs, err := eng.Evaluate(src)
		if err != nil {
			t.Fatalf("iteration %d: unexpected fatal error: %v", i, err)
		}
		if len(evalErrs) > 0 {
			t.Fatalf("iteration %d: unexpected eval errors: %v", i, evalErrs)
		}
		if s.Name != "fine" || s.Grid.Resolution != [3]int{64, 64, 64} {
			t.Errorf("iteration %d: strategy = %+v", i, *s)
		}
	}
}

func TestEvaluateTimeout(t *testing.T) {
	// A channel that never sends stands in for a runaway script.
	var mu sync.Mutex
	var gen uint64 = 1
	ch := make(chan evalResult)

	done := make(chan struct{})
	var resultErr error
	go func() {
		defer close(done)
		_, _, resultErr = waitWithTimeout(ch, 1, &mu, &gen)
	}()

	select {
	case <-done:
		if resultErr == nil {
			t.Fatal("expected timeout error, got nil")
		}
		if !strings.Contains(resultErr.Error(), "timed out") {
			t.Errorf("expected timeout error message, got: %v", resultErr)
		}
	case <-time.After(EvalTimeout + 2*time.Second):
		t.Fatal("test itself timed out waiting for evaluation timeout")
	}
}

func TestEvaluateGenerationDiscardsStale(t *testing.T) {
	var mu sync.Mutex
	gen := uint64(2)

	ch := make(chan evalResult, 1)
	s := pipeline.DefaultStrategy()
	ch <- evalResult{strategy: &s}

	got, _, err := waitWithTimeout(ch, 1, &mu, &gen)
	if err == nil {
		t.Fatal("expected error for stale generation")
	}
	if got != nil {
		t.Errorf("stale strategy returned: %+v", *got)
	}
	if !strings.Contains(err.Error(), "superseded") {
		t.Errorf("expected superseded error, got: %v", err)
	}
}

func TestParseZygomysError(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantLine int
		wantMsg  string
	}{
		{"error on line format", "Error on line 5: unexpected token\n", 5, "unexpected token"},
		{"no line info", "some generic error", 0, "some generic error"},
		{"line format lowercase", "error on line 12: missing paren", 12, "missing paren"},
		{"short line format", "line 3: bad keyword", 3, "bad keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := parseZygomysError(errors.New(tt.msg))
			if len(errs) != 1 {
				t.Fatalf("len(errs) = %d, want 1", len(errs))
			}
			e := errs[0]
			if e.Line != tt.wantLine {
				t.Errorf("line = %d, want %d", e.Line, tt.wantLine)
			}
			if !strings.Contains(e.Message, tt.wantMsg) {
				t.Errorf("message = %q, want containing %q", e.Message, tt.wantMsg)
			}
		})
	}
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.zy")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvalFile(t *testing.T) {
	eng := NewEngine()

	s, err := eng.EvalFile(writeScript(t, "; coarse preview\n(reconstruct :resolution 16 :expand 2)\n"))
	if err != nil {
		t.Fatalf("EvalFile failed: %v", err)
	}
	if s.Grid.Resolution != [3]int{16, 16, 16} || s.Grid.Expand != 2 {
		t.Errorf("strategy = %+v", *s)
	}

	_, err = eng.EvalFile(writeScript(t, "(reconstruct :resolution 16"))
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("EvalFile(syntax error) = %v, want *ScriptError", err)
	}
	if len(se.Errors) == 0 {
		t.Error("ScriptError carries no eval errors")
	}

	_, err = eng.EvalFile(filepath.Join(t.TempDir(), "missing.zy"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("EvalFile(missing) = %v, want not-exist", err)
	}
}

type strategySink struct {
	got []pipeline.Strategy
}

func (s *strategySink) SetStrategy(st pipeline.Strategy) error {
	s.got = append(s.got, st)
	return nil
}

type reloadCounter struct {
	calls int
	res   store.LoadResult
}

func (r *reloadCounter) Reload() store.LoadResult {
	r.calls++
	return r.res
}

func TestReloaderInstallsAndRebuilds(t *testing.T) {
	sink := &strategySink{}
	meshes := &reloadCounter{res: store.LoadResult{Snapshot: &store.Snapshot{}}}
	r := &Reloader{Engine: NewEngine(), Target: sink, Store: meshes}

	if err := r.ReloadLogic(writeScript(t, `(reconstruct :name "hot" :resolution 20)`)); err != nil {
		t.Fatalf("ReloadLogic failed: %v", err)
	}
	if len(sink.got) != 1 || sink.got[0].Name != "hot" {
		t.Errorf("installed strategies = %+v", sink.got)
	}
	if meshes.calls != 1 {
		t.Errorf("Reload calls = %d, want 1", meshes.calls)
	}
}

func TestReloaderRejectsBadScript(t *testing.T) {
	sink := &strategySink{}
	meshes := &reloadCounter{}
	r := &Reloader{Engine: NewEngine(), Target: sink, Store: meshes}

	if err := r.ReloadLogic(writeScript(t, `(reconstruct :resolution 1)`)); err == nil {
		t.Fatal("ReloadLogic accepted an invalid strategy")
	}
	if len(sink.got) != 0 || meshes.calls != 0 {
		t.Errorf("bad script had effects: %d strategies, %d reloads", len(sink.got), meshes.calls)
	}
}

func TestReloaderWithoutIdentity(t *testing.T) {
	meshes := &reloadCounter{res: store.LoadResult{Err: store.ErrNoIdentity}}
	r := &Reloader{Engine: NewEngine(), Target: &strategySink{}, Store: meshes}
	if err := r.ReloadLogic(writeScript(t, `(reconstruct)`)); err != nil {
		t.Errorf("ReloadLogic = %v, want nil when nothing is loaded", err)
	}

	meshes.res = store.LoadResult{Err: errors.New("corrupt asset")}
	if err := r.ReloadLogic(writeScript(t, `(reconstruct)`)); err == nil {
		t.Error("rebuild failure was not reported")
	}
}
