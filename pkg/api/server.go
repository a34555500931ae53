package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vjranagit/perfmon/pkg/query"
	"github.com/vjranagit/perfmon/pkg/registry"
	"github.com/vjranagit/perfmon/pkg/storage"
	"github.com/vjranagit/perfmon/pkg/types"
)

// maxBodyBytes bounds one ingest request
const maxBodyBytes = 32 << 20

// Ingestor accepts raw row batches
type Ingestor interface {
	Write(ctx context.Context, batch *types.RowBatch) error
}

// SystemLister reports the systems known for a database
type SystemLister interface {
	Systems(database types.DatabaseID) []storage.SystemInfo
}

// Config wires the server to the rest of the process
type Config struct {
	Addr     string
	Timeout  time.Duration
	Engine   *query.Engine
	Registry *registry.Registry
	Ingest   Ingestor
	Systems  SystemLister
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server implements the HTTP API server
type Server struct {
	cfg    Config
	logger *slog.Logger
	router *mux.Router
	server *http.Server
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger}

	r := mux.NewRouter()
	r.Use(s.logRequests)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/series", s.handleSeries).Methods(http.MethodGet)
	v1.HandleFunc("/rows", s.handleRows).Methods(http.MethodPost)
	v1.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)
	v1.HandleFunc("/databases/{database}/systems", s.handleSystems).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Timeout,
		WriteTimeout: s.cfg.Timeout,
	}

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleSeries answers a series expression over a time range
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	expr := params.Get("series")
	if expr == "" {
		s.writeError(w, fmt.Errorf("%w: missing series parameter", types.ErrBadRequest))
		return
	}

	start, err := parseTime(params.Get("start"))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid start time: %v", types.ErrBadRequest, err))
		return
	}
	end, err := parseTime(params.Get("end"))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid end time: %v", types.ErrBadRequest, err))
		return
	}

	result, err := s.cfg.Engine.Query(r.Context(), query.Request{Series: expr, Start: start, End: end})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleRows ingests one batch of raw rows
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var batch types.RowBatch
	if err := dec.Decode(&batch); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request: %v", types.ErrBadRequest, err))
		return
	}

	tmpl, ok := s.cfg.Registry.Template(batch.Template)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: template %q", registry.ErrNotFound, batch.Template))
		return
	}
	batch.TimestampColumn = tmpl.TimestampColumn

	if err := s.cfg.Ingest.Write(r.Context(), &batch); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"rows":   len(batch.Rows),
	})
}

type fieldInfo struct {
	Name    string         `json:"name"`
	Methods []types.Method `json:"methods"`
	Default types.Method   `json:"defaultMethod"`
}

type categoryInfo struct {
	Name              string      `json:"name"`
	SubCategoryColumn string      `json:"subCategoryColumn,omitempty"`
	Fields            []fieldInfo `json:"fields"`
}

// handleCategories lists templates with their fields and methods
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	templates := s.cfg.Registry.Templates()

	categories := make([]categoryInfo, 0, len(templates))
	for _, t := range templates {
		c := categoryInfo{Name: t.Name, SubCategoryColumn: t.SubCategoryColumn}
		for _, f := range t.Fields {
			c.Fields = append(c.Fields, fieldInfo{Name: f.Name, Methods: f.Methods(), Default: f.Default})
		}
		categories = append(categories, c)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// handleSystems lists systems with stored rows for one database
func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	// Stored ids are upper case
	database := types.DatabaseID(strings.ToUpper(mux.Vars(r)["database"]))
	if !database.Valid() {
		s.writeError(w, fmt.Errorf("%w: invalid database id %q", types.ErrBadRequest, database))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"database": database,
		"systems":  s.cfg.Systems.Systems(database),
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError maps client errors to 400 and everything else to 500
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if types.IsClientError(err) {
		status = http.StatusBadRequest
		s.logger.Debug("rejected request", "error", err)
	} else {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseTime accepts RFC 3339 or unix milliseconds. Empty means unset.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(started),
		)
	})
}
