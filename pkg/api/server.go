package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // per-request budget, optimization included
	MaxConcurrent  int
	CORSOrigin     string
}

// DefaultConfig returns sensible defaults. Optimization passes are CPU
// bound, so concurrency is capped at one request per core.
func DefaultConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:           addr,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   65 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxConcurrent:  runtime.NumCPU(),
	}
}

// NewServer creates an HTTP server with all routes and middleware.
func NewServer(cfg ServerConfig, handlers *Handlers) *http.Server {
	def := DefaultConfig(cfg.Addr)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	mux := http.NewServeMux()
	sem := make(chan struct{}, cfg.MaxConcurrent)
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, withMiddleware(pattern, h, sem, cfg))
	}

	route("POST /api/v1/allocations", handlers.HandleCreate)
	route("GET /api/v1/allocations/{id}", handlers.HandleGet)
	route("DELETE /api/v1/allocations/{id}", handlers.HandleDelete)
	route("POST /api/v1/allocations/{id}/hazards", handlers.HandleHazards)
	route("POST /api/v1/allocations/{id}/edits", handlers.HandleEdits)
	route("POST /api/v1/allocations/{id}/reseed", handlers.HandleReseed)
	route("GET /api/v1/health", handlers.HandleHealth)
	route("GET /api/v1/stats", handlers.HandleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// ListenAndServe runs srv until ctx is done or SIGTERM/SIGINT arrives,
// then shuts down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Printf("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// withMiddleware wraps a handler with security headers, CORS, the shared
// concurrency limit, panic recovery, a request deadline, request metrics
// and a log line.
func withMiddleware(pattern string, handler http.HandlerFunc, sem chan struct{}, cfg ServerConfig) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w := &statusWriter{ResponseWriter: rw}
		defer func() {
			elapsed := time.Since(start)
			code := strconv.Itoa(w.status)
			httpRequests.WithLabelValues(pattern, code).Inc()
			httpDuration.WithLabelValues(pattern).Observe(elapsed.Seconds())
			log.Printf("%s %s %d %s", r.Method, r.URL.Path, w.status, elapsed.Round(time.Microsecond))
		}()

		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		if cfg.CORSOrigin != "" {
			h.Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
		}

		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		default:
			h.Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", "")
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "internal_error", "")
			}
		}()

		ctx, cancel := context.WithTimeout(r.Context(), cfg.RequestTimeout)
		defer cancel()
		handler(w, r.WithContext(ctx))
	}
}
