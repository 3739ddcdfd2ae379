// Package console serves a small JSON web console for the store: target
// status, table row counts, the preferred-target toggle and Prometheus
// metrics.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maloquacious/stockroom/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is what the console needs from the database manager.
type Backend interface {
	ActiveTargetDescription() string
	IsUsingPreferredExternalTarget() bool
	EnablePreferredExternalTarget(enabled bool)
	Services() []string
	TableRows(ctx context.Context) (map[string]int64, error)
}

// Server is the console's HTTP service. It implements lifecycle.Service.
type Server struct {
	addr     string
	backend  Backend
	gatherer prometheus.Gatherer
	version  string
	log      logger.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New creates a console bound to addr once started. A nil gatherer leaves
// /metrics out.
func New(addr string, backend Backend, gatherer prometheus.Gatherer, version string, log logger.Logger) *Server {
	return &Server{addr: addr, backend: backend, gatherer: gatherer, version: version, log: logger.OrDefault(log)}
}

func (s *Server) Name() string { return "console" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("console already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("console listener bind failed: %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv, s.ln = srv, ln

	go func() {
		s.log.Info("console listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("console server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Handler returns the console routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.Handle("/console/status", jsonOnly(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/console/tables", jsonOnly(http.HandlerFunc(s.handleTables)))
	mux.Handle("/console/preferred", jsonOnly(http.HandlerFunc(s.handlePreferred)))

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type statusResponse struct {
	Version   string   `json:"version"`
	Target    string   `json:"target"`
	Preferred bool     `json:"preferred"`
	Services  []string `json:"services"`
	Time      string   `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version:   s.version,
		Target:    s.backend.ActiveTargetDescription(),
		Preferred: s.backend.IsUsingPreferredExternalTarget(),
		Services:  s.backend.Services(),
		Time:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	rows, err := s.backend.TableRows(r.Context())
	if err != nil {
		s.log.Warn("console: table rows: %v", err)
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": rows})
}

func (s *Server) handlePreferred(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var payload struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", `body must be {"enabled": true|false}`)
			return
		}
		s.backend.EnablePreferredExternalTarget(*payload.Enabled)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferred": s.backend.IsUsingPreferredExternalTarget(),
		"target":    s.backend.ActiveTargetDescription(),
	})
}

// jsonOnly enforces the JSON-only contract for console routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && accept != "" && accept != "*/*" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": msg,
	})
}
