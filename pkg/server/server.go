// Package server exposes the mesh store to browsers: the viewer page, JSON
// endpoints for the current mesh and the model list, and a websocket that
// carries push notifications and change_mesh commands.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/chazu/isoview/pkg/notify"
	"github.com/chazu/isoview/pkg/store"
	"github.com/chazu/isoview/pkg/watch"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ModelLister publishes the names of the available assets.
type ModelLister interface {
	Models() []string
}

// StatsSource reports watcher counters for /api/status.
type StatsSource interface {
	Stats() watch.Stats
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default: :8000.
	Addr string
	// PagePath is the viewer page served at /. Default: templates/viewer.html.
	PagePath string
	// AssetPrefix is stripped from file names sent by viewers, which see
	// assets as models/<name>. Default: models.
	AssetPrefix string

	Store  *store.Store
	Hub    *notify.Hub
	Models ModelLister
	// Stats is optional.
	Stats StatsSource
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Addr == "" {
		o.Addr = ":8000"
	}
	if o.PagePath == "" {
		o.PagePath = "templates/viewer.html"
	}
	if o.AssetPrefix == "" {
		o.AssetPrefix = "models"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Server is the request surface.
type Server struct {
	opts     Options
	router   *chi.Mux
	upgrader websocket.Upgrader
}

// New builds the router. Store and Hub are required.
func New(opts Options) *Server {
	opts.defaults()
	s := &Server{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlePage)
	r.Get("/ws", s.handleWebsocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/mesh", s.handleMesh)
		r.Get("/model_list", s.handleModelList)
		r.Post("/change_mesh", s.handleChangeMesh)
		r.Get("/status", s.handleStatus)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.opts.Logger.Info("server: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, s.opts.PagePath)
}

// meshFailure is the body of a failed /api/mesh request.
type meshFailure struct {
	Error    string    `json:"error"`
	Vertices []float32 `json:"vertices"`
	Faces    []int     `json:"faces"`
}

func (s *Server) handleMesh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Store.EnsureLoaded()
	if err != nil {
		s.opts.Logger.Error("server: mesh unavailable", "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, meshFailure{
			Error:    "Failed to load mesh",
			Vertices: []float32{},
			Faces:    []int{},
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request) {
	models := []string{}
	if s.opts.Models != nil {
		models = append(models, s.opts.Models.Models()...)
	}
	writeJSON(w, http.StatusOK, models)
}

// ChangeMeshRequest is the body of POST /api/change_mesh.
type ChangeMeshRequest struct {
	File        string  `json:"file"`
	LevelScalar float64 `json:"levelScalar"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleChangeMesh(w http.ResponseWriter, r *http.Request) {
	var req ChangeMeshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	file := s.assetName(req.File)
	if file == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "file required"})
		return
	}

	res := s.opts.Store.RequestLoad(file, req.LevelScalar)
	if !res.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: res.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res.Snapshot)
}

// Status is the body of GET /api/status.
type Status struct {
	Generation  uint64       `json:"generation"`
	File        string       `json:"file,omitempty"`
	LevelScalar float64      `json:"levelScalar"`
	Loaded      bool         `json:"loaded"`
	Subscribers int          `json:"subscribers"`
	Published   int64        `json:"published"`
	Dropped     int64        `json:"dropped"`
	Watcher     *watch.Stats `json:"watcher,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{Generation: s.opts.Store.Generation()}
	st.File, st.LevelScalar, _ = s.opts.Store.Identity()
	_, st.Loaded = s.opts.Store.Current()
	if s.opts.Hub != nil {
		st.Subscribers = s.opts.Hub.Count()
		st.Published, st.Dropped = s.opts.Hub.Stats()
	}
	if s.opts.Stats != nil {
		ws := s.opts.Stats.Stats()
		st.Watcher = &ws
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("server: websocket upgrade failed", "error", err)
		return
	}
	s.opts.Hub.Serve(conn, s.onConnect, s.onCommand)
}

func (s *Server) onConnect(id uuid.UUID) {
	if snap, ok := s.opts.Store.Current(); ok {
		s.opts.Hub.SendTo(id, notify.EventMeshUpdated, snap)
	}
}

func (s *Server) onCommand(id uuid.UUID, cmd notify.Command) {
	log := s.opts.Logger.With("subscriber", id)
	if cmd.Event != notify.EventChangeMesh {
		log.Warn("server: unknown command", "event", cmd.Event)
		return
	}
	file := s.assetName(cmd.File)
	if file == "" {
		log.Warn("server: change_mesh without file")
		return
	}
	// Success reaches every viewer through the store's mesh_updated.
	if res := s.opts.Store.RequestLoad(file, cmd.LevelScalar); !res.OK() {
		log.Warn("server: change_mesh failed", "file", file, "error", res.Err)
	}
}

// assetName strips the viewer-facing asset prefix from name.
func (s *Server) assetName(name string) string {
	name = strings.TrimSpace(name)
	return strings.TrimPrefix(name, path.Clean(s.opts.AssetPrefix)+"/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
