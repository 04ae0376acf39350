package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/isoview/pkg/pipeline"
)

// TestE2EMissingScriptUsesConfig starts without a processing-logic file.
func TestE2EMissingScriptUsesConfig(t *testing.T) {
	app, cfg := newTestApp(t, "")
	app.Startup()

	s := app.pipeline.Strategy()
	if s.Name != "config" {
		t.Errorf("strategy = %q, want config", s.Name)
	}
	r := cfg.Reconstruct.Resolution
	if s.Grid.Resolution != [3]int{r, r, r} {
		t.Errorf("resolution = %v, want %d cubed", s.Grid.Resolution, r)
	}
	if _, ok := app.store.Current(); !ok {
		t.Error("initial mesh not loaded")
	}
}

// TestE2EBrokenScriptKeepsConfig starts with a script that does not parse.
func TestE2EBrokenScriptKeepsConfig(t *testing.T) {
	app, _ := newTestApp(t, `(reconstruct :resolution 16`)
	app.Startup()

	if got := app.pipeline.Strategy().Name; got != "config" {
		t.Errorf("strategy = %q, want config", got)
	}
	if _, ok := app.store.Current(); !ok {
		t.Error("initial mesh not loaded despite script error")
	}
}

// TestE2ECommentsOnlyScript evaluates to the default strategy.
func TestE2ECommentsOnlyScript(t *testing.T) {
	app, _ := newTestApp(t, ";; nothing to configure\n; really nothing\n")
	app.Startup()

	if got := app.pipeline.Strategy(); got != pipeline.DefaultStrategy() {
		t.Errorf("strategy = %+v, want default", got)
	}
}

// TestE2ENoModels leaves the store empty without failing startup.
func TestE2ENoModels(t *testing.T) {
	app, cfg := newTestApp(t, "")
	if err := os.Remove(filepath.Join(cfg.Models.Dir, "cube.obj")); err != nil {
		t.Fatal(err)
	}
	app.Startup()

	if _, ok := app.store.Current(); ok {
		t.Error("store has a mesh with no models on disk")
	}
	if _, _, ok := app.store.Identity(); ok {
		t.Error("identity recorded with no models on disk")
	}
	if got := app.watcher.Models(); len(got) != 0 {
		t.Errorf("models = %v, want none", got)
	}
}

// TestE2EConfiguredInitialFile prefers the configured model over the first
// one on disk.
func TestE2EConfiguredInitialFile(t *testing.T) {
	app, cfg := newTestApp(t, "")
	mustWrite(t, filepath.Join(cfg.Models.Dir, "a_first.obj"), cubeOBJ)
	cfg.Initial.File = "cube.obj"
	app.Startup()

	cur, ok := app.store.Current()
	if !ok {
		t.Fatal("initial mesh not loaded")
	}
	if cur.File != "cube.obj" {
		t.Errorf("file = %q, want cube.obj", cur.File)
	}
	if got := app.watcher.Models(); len(got) != 2 || got[0] != "a_first.obj" {
		t.Errorf("models = %v, want [a_first.obj cube.obj]", got)
	}
}

// TestE2EBadInitialFile records the request but installs nothing.
func TestE2EBadInitialFile(t *testing.T) {
	app, cfg := newTestApp(t, "")
	cfg.Initial.File = "missing.obj"
	app.Startup()

	if _, ok := app.store.Current(); ok {
		t.Error("store has a mesh after a failed initial load")
	}
	file, _, ok := app.store.Identity()
	if !ok || file != "missing.obj" {
		t.Errorf("identity = %q, %v, want missing.obj", file, ok)
	}
}

// TestE2EEmptyReconstruction shrinks the cube away entirely; the result is
// a valid empty mesh.
func TestE2EEmptyReconstruction(t *testing.T) {
	app, cfg := newTestApp(t, `(reconstruct :resolution 12)`)
	cfg.Initial.LevelScalar = -0.9
	app.Startup()

	cur, ok := app.store.Current()
	if !ok {
		t.Fatal("empty reconstruction was not installed")
	}
	if len(cur.Vertices) != 0 || cur.FaceCount != 0 {
		t.Errorf("vertices = %d, faces = %d, want empty", len(cur.Vertices), cur.FaceCount)
	}
}
