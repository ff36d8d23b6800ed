package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"golang.org/x/sync/errgroup"

	apihttp "torrent2http/internal/api/http"
	"torrent2http/internal/app"
	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
	"torrent2http/internal/metrics"
	filerepo "torrent2http/internal/repository/file"
	mongorepo "torrent2http/internal/repository/mongo"
	"torrent2http/internal/services/torrent/catalog"
	"torrent2http/internal/services/torrent/engine/anacrolix"
	"torrent2http/internal/telemetry"
	"torrent2http/internal/usecase"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName:    "torrent2http",
		ServiceVersion: app.Version,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "torrent2http"),
		slog.String("version", app.Version),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("downloadPath", cfg.DownloadPath),
		slog.Int("fileIndex", cfg.FileIndex),
		slog.String("persistBackend", cfg.PersistBackend),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	store, closeStore, err := openBlobStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("persistence backend init failed", slog.String("error", err.Error()))
		return 1
	}
	defer closeStore()

	persistence := usecase.Persistence{
		Store:     store,
		ResumeKey: cfg.ResumeFile,
		StateKey:  cfg.StateFile,
		Logger:    logger,
	}

	engine, err := anacrolix.New(anacrolix.Settings{
		DataDir:          cfg.DownloadPath,
		ListenPort:       cfg.ListenPort,
		RandomPort:       cfg.RandomPort,
		UserAgent:        cfg.UserAgent,
		DHT:              cfg.EnableDHT,
		UPnP:             cfg.EnableUPnP,
		NATPMP:           cfg.EnableNATPMP,
		LSD:              cfg.EnableLSD,
		UTP:              cfg.EnableUTP,
		TCP:              cfg.EnableTCP,
		DHTRouters:       cfg.DHTRouters,
		DownloadRate:     kbpsToBytes(cfg.DownloadKbps),
		UploadRate:       kbpsToBytes(cfg.UploadKbps),
		ConnectionsLimit: cfg.ConnectionsLimit,
		Encryption:       cfg.Encryption,
		SessionState:     persistence.LoadState(rootCtx),
		DebugAlerts:      cfg.DebugAlerts,
		Logger:           logger,

		PeerConnectTimeout: cfg.PeerConnectTimeout,
		HandshakeTimeout:   cfg.RequestTimeout,
		HalfOpenPerTorrent: cfg.TorrentConnectBoost,
		TotalHalfOpen:      cfg.ConnectionSpeed,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("torrent engine started", slog.Int("listenPort", engine.ListenPort()))

	torrent, err := engine.AddTorrent(rootCtx, ports.AddTorrentParams{
		URI:        cfg.TorrentURI,
		SavePath:   cfg.DownloadPath,
		ResumeData: persistence.LoadResume(rootCtx),
		Trackers:   cfg.Trackers,
	})
	if err != nil {
		logger.Error("add torrent failed", slog.String("uri", cfg.TorrentURI), slog.String("error", err.Error()))
		_ = engine.Close()
		return 1
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Error("http listen failed", slog.String("addr", cfg.HTTPAddr), slog.String("error", err.Error()))
		_ = engine.Close()
		return 1
	}

	cat := catalog.New(torrent, catalog.Options{
		StartIndex:     cfg.FileIndex,
		PrefetchPieces: cfg.PrefetchPieces,
		Logger:         logger,
	})
	go func() {
		if err := cat.WaitForMetadata(rootCtx); err == nil {
			if meta, ok := cat.Metadata(); ok {
				logger.Info("metadata received",
					slog.String("name", meta.Name),
					slog.Int("files", len(meta.Files)),
					slog.Int("pieces", meta.NumPieces),
				)
			}
		}
	}()

	trigger := usecase.NewShutdownTrigger()
	gateway := apihttp.NewServer(cat, torrent,
		apihttp.WithLogger(logger),
		apihttp.WithTrigger(trigger),
		apihttp.WithAddr(listener.Addr().String()),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithIdleTimeout(cfg.IdleTimeout),
	)
	defer gateway.Close()

	srv := newHTTPServer(gateway, cat.Close)

	loop := usecase.ControlLoop{
		Swarm:       engine,
		Torrent:     torrent,
		Catalog:     cat,
		Persistence: persistence,
		Trigger:     trigger,
		Stats: usecase.StatsLogger{
			Torrent: torrent,
			Catalog: cat,
			Logger:  logger,
			Overall: cfg.ShowStats || cfg.OverallProgress,
			Files:   cfg.FilesProgress,
			Pieces:  cfg.PiecesProgress,
		},
		Observers:      []usecase.StatusObserver{gateway},
		Logger:         logger,
		ExitOnFinish:   cfg.ExitOnFinish,
		StatsInterval:  cfg.StatsInterval,
		ResumeInterval: cfg.ResumeInterval,
	}
	shutdown := &usecase.Shutdown{
		Swarm:       engine,
		Torrent:     torrent,
		Catalog:     cat,
		Persistence: persistence,
		Retention: domain.RetentionPolicy{
			KeepComplete:   cfg.KeepComplete,
			KeepIncomplete: cfg.KeepIncomplete,
			KeepFiles:      cfg.KeepFiles,
		},
		Logger:       logger,
		StopListener: srv.Shutdown,
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("server started", slog.String("addr", listener.Addr().String()))
		err := srv.Serve(listener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("http server error", slog.String("error", err.Error()))
		trigger.Fire(usecase.ReasonServerError)
		return err
	})
	g.Go(func() error {
		reason := loop.Run(rootCtx)
		logger.Info("shutting down", slog.String("reason", reason))
		// Shutdown steps carry their own bounds; rootCtx is already done on signal.
		return shutdown.Run(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Error("exited with error", slog.String("error", err.Error()))
		return 1
	}
	if trigger.Reason() == usecase.ReasonServerError {
		return 1
	}
	logger.Info("server stopped")
	return 0
}

// openBlobStore returns the configured persistence backend and a cleanup for it.
func openBlobStore(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.BlobStore, func(), error) {
	if cfg.PersistBackend != app.PersistMongo {
		return filerepo.BlobStore{}, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	cleanup := func() { disconnect(client, logger) }
	return mongorepo.NewBlobStore(client, cfg.MongoDatabase, cfg.MongoCollection), cleanup, nil
}

func disconnect(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}
}

// kbpsToBytes maps a KiB/s limit to bytes/s. Non-positive values mean unlimited.
func kbpsToBytes(kbps int64) int64 {
	if kbps <= 0 {
		return -1
	}
	return kbps * 1024
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHTTPServer runs onShutdown as soon as Shutdown starts so streaming
// handlers blocked on missing pieces return before the drain deadline.
func newHTTPServer(handler http.Handler, onShutdown func()) *http.Server {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(onShutdown)
	return srv
}
