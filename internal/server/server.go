package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/ghost-dispatch/internal/metrics"
)

type Options struct {
	Hub        *Hub
	Store      CallStore
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	Webhook  WebhookConfig
}

func Handler(opts Options) (http.Handler, error) {
	if opts.Hub == nil || opts.Store == nil || opts.Dispatcher == nil {
		return nil, errors.New("server: hub, store and dispatcher are required")
	}

	mux := http.NewServeMux()
	instrument := func(endpoint string, h http.HandlerFunc) http.HandlerFunc {
		return withMetrics(opts.Metrics, endpoint, h)
	}

	registerWebhookRoutes(mux, opts.Store, opts.Webhook)
	registerMediaRoute(mux, opts.Dispatcher)
	registerWSRoute(mux, opts.Hub)
	registerAPIRoutes(mux, opts.Store, opts.Dispatcher, instrument)

	mux.HandleFunc("GET /healthz", instrument("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"sessions":    len(opts.Dispatcher.Sessions()),
			"subscribers": opts.Hub.Subscribers(),
		})
	}))
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux, nil
}

// Server owns the HTTP listener.
type Server struct {
	httpServer *http.Server
}

func New(addr string, opts Options) (*Server, error) {
	h, err := Handler(opts)
	if err != nil {
		return nil, err
	}
	return &Server{httpServer: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}}, nil
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
// A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	slog.Info("server: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withMetrics records request counts and latency. Websocket routes are not
// wrapped since the status recorder hides http.Hijacker.
func withMetrics(m *metrics.Metrics, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		m.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(start))
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
