package apihttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/services/torrent/catalog"
	"torrent2http/internal/usecase"
)

// FileCatalog is the part of the catalog the gateway serves from.
type FileCatalog interface {
	Open(name string) (http.File, error)
	OpenFile(name string) (*catalog.File, error)
	OpenIndex(index int) (*catalog.File, error)
	Files() []domain.FileProgress
	DiskPath(entry domain.FileEntry) string
}

// ShutdownTrigger is raised by /shutdown and by the idle timeout.
type ShutdownTrigger interface {
	Fire(reason string)
}

type Server struct {
	catalog        FileCatalog
	torrent        ports.Torrent
	trigger        ShutdownTrigger
	addr           string
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	idleTimeout    time.Duration
	idle           *idleTracker
	logger         *slog.Logger
	handler        http.Handler
	feed           *statusFeed
	upgrader       websocket.Upgrader
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithTrigger(trigger ShutdownTrigger) ServerOption {
	return func(s *Server) {
		s.trigger = trigger
	}
}

// WithAddr sets the host:port used to build file URLs when the request
// carries no Host header.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit caps introspection requests. rps <= 0 disables the limiter.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithIdleTimeout fires the shutdown trigger once no request has been active
// for d. d <= 0 disables it.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

func NewServer(files FileCatalog, torrent ports.Torrent, opts ...ServerOption) *Server {
	s := &Server{
		catalog:   files,
		torrent:   torrent,
		rateRPS:   100,
		rateBurst: 200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.idleTimeout > 0 && s.trigger != nil {
		timeout := s.idleTimeout
		s.idle = newIdleTracker(timeout, func() {
			s.logger.Info("no active connections, shutting down", slog.Duration("idleTimeout", timeout))
			s.trigger.Fire(usecase.ReasonIdle)
		})
	}

	origins := newOriginPolicy(s.allowedOrigins)
	s.upgrader = newUpgrader(origins)
	s.feed = newStatusFeed(s.logger)
	go s.feed.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ls", s.handleList)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/trackers", s.handleTrackers)
	mux.HandleFunc("/files/", s.handleFiles)
	mux.HandleFunc("/get/", s.handleGet)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrent2http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isNoisyPath(r.URL.Path)
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		idleMiddleware(s.idle,
			rateLimitMiddleware(s.rateRPS, s.rateBurst,
				metricsMiddleware(corsMiddleware(origins, traced)))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the websocket feed and the idle timer. In-flight HTTP requests
// are the caller's http.Server's concern.
func (s *Server) Close() {
	if s.idle != nil {
		s.idle.stop()
	}
	s.feed.stop()
}

// PublishStatus pushes the control loop's snapshot to websocket subscribers.
func (s *Server) PublishStatus(status domain.TorrentStatus, files []domain.FileProgress) {
	s.feed.publish("status", newStatusResponse(status))
	if files != nil {
		s.feed.publish("files", s.fileResponses(files, s.addr))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	if !s.feed.subscribe(conn) {
		conn.Close()
	}
}
