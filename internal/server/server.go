package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jpalmerr/serialbridge/internal/metrics"
	"github.com/jpalmerr/serialbridge/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// DefaultQueryTimeout bounds a full history query.
	DefaultQueryTimeout = 5 * time.Second

	indexAsset = "index.html"
	styleAsset = "style.css"

	indexMissingText     = "index.html not found. Place index.html in the assets directory."
	notConnectedText     = "Database not connected."
	queryFailedText      = "Failed to retrieve measurements."
	unmatchedRouteMetric = "unmatched"
)

// Config contains the dependencies of a [Server].
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// Latest is read on every /data request. Required.
	Latest *store.Latest

	// Gateway answers /all_data. Required.
	Gateway store.Gateway

	// Assets holds index.html and style.css at its root. Nil means every
	// asset is missing.
	Assets fs.FS

	// QueryTimeout bounds /all_data queries. Defaults to DefaultQueryTimeout.
	QueryTimeout time.Duration

	// Metrics collects request metrics and backs /metrics. Required.
	Metrics *metrics.Metrics

	// Logger for server events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server handles HTTP requests for the dashboard and its data endpoints.
//
// Server provides these endpoints:
//   - GET /: The main page asset
//   - GET /style.css: The stylesheet asset
//   - GET /data: The latest value as plain text
//   - GET /all_data: Every measurement as plain text, newest first
//   - GET /events: Server-Sent Events stream of latest value changes
//   - GET /metrics: Prometheus metrics
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	latest       *store.Latest
	gateway      store.Gateway
	port         int
	assets       fs.FS
	queryTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	done       chan struct{}
}

// NewServer creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called.
func NewServer(cfg Config) *Server {
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		latest:       cfg.Latest,
		gateway:      cfg.Gateway,
		port:         cfg.Port,
		assets:       cfg.Assets,
		queryTimeout: queryTimeout,
		metrics:      cfg.Metrics,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Routes returns the request router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Use(s.instrument)

	r.Get("/", s.handleIndex)
	r.Get("/style.css", s.handleStyle)
	r.Get("/data", s.handleData)
	r.Get("/all_data", s.handleAllData)
	r.Get("/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening, so a nil return means the port is bound. The server will
// continue running until the context is cancelled, at which point it
// initiates a graceful shutdown with a 5-second timeout. [Server.Done] is
// closed once the shutdown completed.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE streams end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Done is closed after the server shut down following context cancellation.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// instrument records per-route request counts and latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unmatchedRouteMetric
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status, time.Since(start))
	})
}

// handleIndex serves the main page verbatim.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	content, err := s.readAsset(indexAsset)
	if err != nil {
		s.logger.Warn("asset missing", "asset", indexAsset, "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(indexMissingText))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(content); err != nil {
		s.logger.Error("failed to write index response", "error", err)
	}
}

// handleStyle serves the stylesheet verbatim, or an empty 404.
func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	content, err := s.readAsset(styleAsset)
	if err != nil {
		s.logger.Warn("asset missing", "asset", styleAsset, "error", err)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/css")
	if _, err := w.Write(content); err != nil {
		s.logger.Error("failed to write stylesheet response", "error", err)
	}
}

// handleData returns the latest value. This is the endpoint the dashboard polls.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	if _, err := w.Write([]byte(s.latest.Get())); err != nil {
		s.logger.Error("failed to write data response", "error", err)
	}
}

// handleAllData returns every measurement, newest first, one per line.
// Query failures are reported as explanatory text with status 200.
func (s *Server) handleAllData(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	start := time.Now()
	measurements, err := s.gateway.All(ctx)
	s.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	var body string
	switch {
	case errors.Is(err, store.ErrNotConnected):
		body = notConnectedText
	case err != nil:
		s.metrics.StorageErrors.WithLabelValues(metrics.OpQuery).Inc()
		s.logger.Error("failed to query measurements", "error", err)
		body = queryFailedText
	default:
		body = formatHistory(measurements)
	}

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("failed to write history response", "error", err)
	}
}

// handleEvents streams latest value changes via Server-Sent Events.
//
// Write deadlines keep a slow or vanished client from pinning the handler
// after shutdown.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(value string) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", value); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.latest.Subscribe()
	defer s.latest.Unsubscribe(ch)

	if err := writeAndFlush(s.latest.Get()); err != nil {
		return
	}

	for {
		select {
		case value, ok := <-ch:
			if !ok {
				return
			}
			if err := writeAndFlush(value); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on both client disconnect and server shutdown
			return
		}
	}
}

// readAsset reads a file from the asset filesystem.
func (s *Server) readAsset(name string) ([]byte, error) {
	if s.assets == nil {
		return nil, fs.ErrNotExist
	}
	return fs.ReadFile(s.assets, name)
}

// formatHistory renders measurements as "ID: <id>, Timestamp: <ts>, Value: <value>"
// lines in the given order.
func formatHistory(measurements []store.Measurement) string {
	var b strings.Builder
	for _, m := range measurements {
		fmt.Fprintf(&b, "ID: %d, Timestamp: %s, Value: %s\n",
			m.ID, m.Timestamp.Format(store.TimeLayout), m.Value)
	}
	return b.String()
}
