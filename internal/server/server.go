// Package server exposes the stores of a data directory over a read-only
// HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/plasticityfit/internal/store"
)

// Server represents the HTTP server
type Server struct {
	dataDir string
	addr    string
	server  *http.Server

	// PollInterval is how often trace streams check for new entries
	PollInterval time.Duration
}

// NewServer creates a server over the stores in dataDir
func NewServer(addr, dataDir string) *Server {
	return &Server{
		dataDir:      dataDir,
		addr:         addr,
		PollInterval: time.Second,
	}
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/stores", s.handleListStores)
	mux.HandleFunc("/api/v1/stores/", s.handleStoresWithName)
	mux.HandleFunc("/api/v1/centers", s.handleListCenters)
	mux.HandleFunc("/api/v1/traces/", s.handleTracesWithID)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr, "data_dir", s.dataDir)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleListStores handles GET /api/v1/stores
func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos, err := listStores(r.Context(), s.dataDir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleStoresWithName handles /api/v1/stores/:name/*
func (s *Server) handleStoresWithName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/stores/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Store name required", http.StatusBadRequest)
		return
	}
	name := parts[0]

	if len(parts) == 1 {
		s.handleGetStore(w, r, name)
	} else if parts[1] == "best" {
		s.handleGetBest(w, r, name)
	} else if parts[1] == "runs" {
		s.handleGetRuns(w, r, name)
	} else {
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleGetStore handles GET /api/v1/stores/:name
func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request, name string) {
	info, err := describeStore(r.Context(), s.dataDir, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleGetBest handles GET /api/v1/stores/:name/best?n=&table=&by=
func (s *Server) handleGetBest(w http.ResponseWriter, r *http.Request, name string) {
	q := r.URL.Query()
	n, err := parsePositive(q.Get("n"), 10)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid n: %v", err), http.StatusBadRequest)
		return
	}
	by := q.Get("by")
	if by == "" {
		by = "li"
	}

	st, err := openTable(r.Context(), s.dataDir, name, q.Get("table"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer st.Close()

	records, err := st.Best(r.Context(), n, by)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetRuns handles GET /api/v1/stores/:name/runs
func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request, name string) {
	st, err := openTable(r.Context(), s.dataDir, name, r.URL.Query().Get("table"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer st.Close()

	runs, err := st.Runs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleListCenters handles GET /api/v1/centers
func (s *Server) handleListCenters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cs, err := store.NewCenterStore(s.dataDir)
	if err != nil {
		writeError(w, err)
		return
	}
	centers, err := cs.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if centers == nil {
		centers = []store.Center{}
	}
	writeJSON(w, http.StatusOK, centers)
}

// handleTracesWithID handles /api/v1/traces/:run and /api/v1/traces/:run/stream
func (s *Server) handleTracesWithID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/traces/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" || !validName(parts[0]) {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	if len(parts) == 1 {
		s.handleGetTrace(w, r, runID)
	} else if parts[1] == "stream" {
		s.handleTraceStream(w, r, runID)
	} else {
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleGetTrace handles GET /api/v1/traces/:run
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, runID string) {
	tr, err := store.NewTraceReader(s.dataDir, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.TraceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
