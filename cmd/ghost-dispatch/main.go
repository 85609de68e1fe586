package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sjawhar/ghost-dispatch/internal/analysis"
	"github.com/sjawhar/ghost-dispatch/internal/config"
	"github.com/sjawhar/ghost-dispatch/internal/gdrive"
	"github.com/sjawhar/ghost-dispatch/internal/geocode"
	"github.com/sjawhar/ghost-dispatch/internal/llm"
	"github.com/sjawhar/ghost-dispatch/internal/metrics"
	"github.com/sjawhar/ghost-dispatch/internal/relay"
	"github.com/sjawhar/ghost-dispatch/internal/server"
	"github.com/sjawhar/ghost-dispatch/internal/session"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() (code int) {
	defaultConfig := os.Getenv(config.EnvPrefix + "CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghost-dispatch: %v\n", err)
		return 1
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	for _, w := range warnings {
		slog.Warn("config: " + w)
	}
	slog.Info("ghost-dispatch: starting", "listen_addr", cfg.ListenAddr, "relay", cfg.RelayProvider)

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		slog.Error("storage init failed", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	archive := storage.NewWriter(cfg.ArchiveDir)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := server.NewHub()

	manager := session.NewManager(session.Config{
		FramesPerBlock:    cfg.FramesPerBlock,
		CloseTimeout:      cfg.ParsedCloseTimeout(),
		IdleTimeout:       cfg.ParsedIdleTimeout(),
		AnalysisTimeout:   cfg.ParsedAnalysisTimeout(),
		NotificationTitle: cfg.NotificationTitle,
	}, session.Deps{
		Dialer:   newDialer(cfg),
		Store:    store,
		Archive:  archive,
		Notifier: hub,
		Analyzer: newAnalyzer(cfg, store),
		Metrics:  m,
	})

	srv, err := server.New(cfg.ListenAddr, server.Options{
		Hub:        hub,
		Store:      store,
		Dispatcher: manager,
		Metrics:    m,
		Gatherer:   reg,
		Webhook: server.WebhookConfig{
			PublicHost:  cfg.PublicHost,
			Greeting:    cfg.Greeting,
			HoldSeconds: cfg.HoldSeconds,
		},
	})
	if err != nil {
		slog.Error("build http server failed", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("ghost-dispatch: shutting down")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown failed", "error", err)
			}
			if err := manager.Shutdown(shutdownCtx); err != nil {
				slog.Warn("session shutdown incomplete", "error", err)
			}
			if err := manager.WaitAnalyses(shutdownCtx); err != nil {
				slog.Warn("end-of-call analyses still running at exit", "error", err)
			}
		})
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("ghost-dispatch: panic", "panic", r, "stack", string(debug.Stack()))
			shutdown()
			code = 1
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			slog.Warn("gdrive sync disabled", "error", syncErr)
		} else {
			go syncer.Run(ctx, gdrive.SyncInterval, archive.PathFor)
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		slog.Info("ghost-dispatch: received signal", "signal", s.String())
	case err := <-serveErr:
		if err == nil {
			err = errors.New("listener closed unexpectedly")
		}
		slog.Error("http server failed", "error", err)
		code = 1
	}

	shutdown()
	return code
}

func newDialer(cfg config.Config) relay.Dialer {
	if cfg.RelayProvider == config.RelayDeepgram {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
		return relay.NewDeepgramDialer(cfg.DeepgramAPIKey, cfg.DeepgramModel)
	}
	return relay.NewAssemblyAIDialer(cfg.AssemblyAIURL, cfg.AssemblyAIAPIKey)
}

func newAnalyzer(cfg config.Config, store *storage.SQLiteStore) *analysis.Analyzer {
	factory := func(provider, model string, opts ...llm.Option) (llm.Client, error) {
		key := cfg.APIKeyFor(provider)
		if key == "" {
			return nil, fmt.Errorf("no API key configured for %s", provider)
		}
		return llm.NewClient(provider, key, model, append([]llm.Option{llm.WithTemperature(0)}, opts...)...)
	}

	var geocoder analysis.Geocoder
	if cfg.MapsAPIKey != "" {
		g, err := geocode.NewGoogle(cfg.MapsAPIKey, cfg.GeocodeSuffix)
		if err != nil {
			slog.Warn("geocoding disabled", "error", err)
		} else {
			geocoder = g
		}
	}

	return analysis.New(
		store,
		analysis.NewExtractor(cfg.AnalysisModel, factory),
		analysis.NewExtractor(cfg.AnalysisExpensiveModel, factory),
		analysis.NewEmergencyClassifier(cfg.AnalysisModel, factory),
		geocoder,
	)
}
