package ratiometer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DiagServer is a local HTTP listener exposing health and pipeline
// counters. Bind it to loopback; it carries no auth.
type DiagServer struct {
	annotator *Annotator
	logger    *slog.Logger
	srv       *http.Server
}

// NewDiagServer creates a diagnostics server for a.
func NewDiagServer(a *Annotator, addr string, logger *slog.Logger) *DiagServer {
	if logger == nil {
		logger = slog.Default()
	}

	d := &DiagServer{annotator: a, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/healthz", d.handleHealthz)
	r.Get("/stats", d.handleStats)

	d.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Start runs the listener until Stop. Blocking.
func (d *DiagServer) Start() error {
	d.logger.Info("diag: listening", "addr", d.srv.Addr)
	if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (d *DiagServer) Stop(ctx context.Context) error {
	return d.srv.Shutdown(ctx)
}

func (d *DiagServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (d *DiagServer) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.annotator.Stats()); err != nil {
		d.logger.Warn("diag: encode stats", "error", err)
	}
}
