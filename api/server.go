// CLAUDE:SUMMARY HTTP API: chi router over the permit pipeline, project store and metrics, optional bcrypt Basic Auth.
// Package api exposes the permit pipeline over HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics
//	POST /v1/projects                       create or update a project
//	GET  /v1/projects
//	GET  /v1/projects/{id}
//	POST /v1/projects/{id}/permit-packages  multipart: bom, base, base_pages
//	GET  /v1/projects/{id}/runs
//	GET  /v1/runs/{id}
//	POST /v1/locate                         JSON component -> match result
//	GET  /v1/notes?part_number=
//
// Everything except /healthz sits behind Basic Auth when a username is set.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/permitpack/metrics"
	"github.com/hazyhaar/permitpack/permit"
)

// Config wires the API.
type Config struct {
	Pipeline *permit.Pipeline
	Metrics  *metrics.Metrics

	// Username and PasswordHash (bcrypt) enable Basic Auth when Username is set.
	Username     string
	PasswordHash string

	// UploadDir holds uploaded inputs while a run is in progress.
	// Default: os.TempDir().
	UploadDir string

	// MaxUploadBytes caps a permit-package request body. Default: 64MB.
	MaxUploadBytes int64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UploadDir == "" {
		c.UploadDir = os.TempDir()
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 64 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server is the HTTP front of the pipeline.
type Server struct {
	cfg    Config
	pipe   *permit.Pipeline
	logger *slog.Logger
}

// New creates a Server. cfg.Pipeline is required.
func New(cfg Config) *Server {
	cfg.defaults()
	return &Server{cfg: cfg, pipe: cfg.Pipeline, logger: cfg.Logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(securityHeaders)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.cfg.Username != "" {
			r.Use(basicAuth(s.cfg.Username, s.cfg.PasswordHash, s.logger))
		}

		if s.cfg.Metrics != nil {
			r.Handle("/metrics", s.cfg.Metrics.Handler())
		}

		r.Route("/v1/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Post("/", s.upsertProject)
			r.Get("/{id}", s.getProject)
			r.Post("/{id}/permit-packages", s.createPermitPackage)
			r.Get("/{id}/runs", s.listRuns)
		})
		r.Get("/v1/runs/{id}", s.getRun)
		r.Post("/v1/locate", s.locate)
		r.Get("/v1/notes", s.listNotes)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
