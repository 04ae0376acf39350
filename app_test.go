package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/isoview/pkg/config"
)

const cubeOBJ = `# 2x2x2 cube centred on the origin
v -1 -1 -1
v 1 -1 -1
v 1 1 -1
v -1 1 -1
v -1 -1 1
v 1 -1 1
v 1 1 1
v -1 1 1
f 1 4 3 2
f 5 6 7 8
f 1 2 6 5
f 3 4 8 7
f 2 3 7 6
f 1 5 8 4
`

// newTestApp lays out a workspace with one model, a script and a page, and
// builds an App over it with polling only.
func newTestApp(t *testing.T, script string) (*App, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Models.Dir = filepath.Join(dir, "models")
	cfg.Logic = filepath.Join(dir, "pipeline.zy")
	cfg.Page = filepath.Join(dir, "templates", "viewer.html")
	cfg.Watch.FSNotify = false

	mustWrite(t, filepath.Join(cfg.Models.Dir, "cube.obj"), cubeOBJ)
	mustWrite(t, cfg.Page, "<html>isoview</html>")
	if script != "" {
		mustWrite(t, cfg.Logic, script)
	}

	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	t.Cleanup(app.Close)
	return app, cfg
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

type meshResponse struct {
	Vertices     []float32 `json:"vertices"`
	Normals      []float32 `json:"normals"`
	Colors       []float32 `json:"colors"`
	IsWatertight bool      `json:"isWatertight"`
	Volume       float64   `json:"volume"`
	File         string    `json:"file"`
	LevelScalar  float64   `json:"levelScalar"`
}

// TestE2EStartupServesFirstModel exercises the startup path: script
// evaluation, model discovery, initial load, and /api/mesh.
func TestE2EStartupServesFirstModel(t *testing.T) {
	app, _ := newTestApp(t, `(reconstruct :name "test" :resolution 16)`)
	app.Startup()

	if got := app.pipeline.Strategy().Name; got != "test" {
		t.Errorf("strategy = %q, want test", got)
	}

	srv := httptest.NewServer(app.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/mesh")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var m meshResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if m.File != "cube.obj" {
		t.Errorf("file = %q, want cube.obj", m.File)
	}
	if len(m.Vertices) != 12*9 || len(m.Normals) != 12*9 {
		t.Errorf("len(vertices) = %d, len(normals) = %d, want %d", len(m.Vertices), len(m.Normals), 12*9)
	}
	if m.Colors != nil {
		t.Errorf("uncoloured model carries %d colour values, want none", len(m.Colors))
	}
	if !m.IsWatertight || m.Volume < 7.999 || m.Volume > 8.001 {
		t.Errorf("isWatertight = %v, volume = %v, want true and 8", m.IsWatertight, m.Volume)
	}
}

// TestE2EChangeMeshReconstructs requests an offset surface over HTTP.
func TestE2EChangeMeshReconstructs(t *testing.T) {
	app, _ := newTestApp(t, `(reconstruct :resolution 16)`)
	app.Startup()

	srv := httptest.NewServer(app.server.Handler())
	defer srv.Close()

	body := bytes.NewBufferString(`{"file":"models/cube.obj","levelScalar":0.1}`)
	resp, err := http.Post(srv.URL+"/api/change_mesh", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}
	var m meshResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if m.LevelScalar != 0.1 {
		t.Errorf("levelScalar = %v, want 0.1", m.LevelScalar)
	}
	if m.Volume <= 8 {
		t.Errorf("volume = %v, want more than the source's 8", m.Volume)
	}
	if m.Colors != nil {
		t.Errorf("reconstructed surface carries %d colour values, want none", len(m.Colors))
	}
}

// TestE2EScriptEditRebuilds edits the processing logic and checks that a
// poll swaps the strategy and rebuilds the displayed mesh.
func TestE2EScriptEditRebuilds(t *testing.T) {
	app, cfg := newTestApp(t, `(reconstruct :name "coarse" :resolution 12)`)
	cfg.Initial.LevelScalar = 0.05
	app.Startup()

	gen := app.store.Generation()
	if gen != 1 {
		t.Fatalf("generation after startup = %d, want 1", gen)
	}

	mustWrite(t, cfg.Logic, `(reconstruct :name "fine" :resolution 20)`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(cfg.Logic, future, future); err != nil {
		t.Fatal(err)
	}
	if err := app.watcher.Poll(); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if got := app.pipeline.Strategy().Name; got != "fine" {
		t.Errorf("strategy = %q, want fine", got)
	}
	if got := app.store.Generation(); got != gen+1 {
		t.Errorf("generation = %d, want %d", got, gen+1)
	}
	if st := app.watcher.Stats(); st.Reloads != 1 {
		t.Errorf("watcher reloads = %d, want 1", st.Reloads)
	}
}

// TestE2ENewModelUsesViewerPrefix checks that a model appearing in a models
// directory outside the working directory is announced as models/<name>.
func TestE2ENewModelUsesViewerPrefix(t *testing.T) {
	app, cfg := newTestApp(t, `(reconstruct :resolution 12)`)
	app.Startup()

	id, frames := app.hub.Subscribe()
	defer app.hub.Unsubscribe(id)

	mustWrite(t, filepath.Join(cfg.Models.Dir, "tetra.obj"), cubeOBJ)
	if err := app.watcher.Poll(); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	var msg struct {
		Event string `json:"event"`
		Data  struct {
			File string `json:"file"`
		} `json:"data"`
	}
	select {
	case raw := <-frames:
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("no model_list_updated frame")
	}
	if msg.Event != "model_list_updated" {
		t.Errorf("event = %q, want model_list_updated", msg.Event)
	}
	if msg.Data.File != "models/tetra.obj" {
		t.Errorf("file = %q, want models/tetra.obj", msg.Data.File)
	}
}
