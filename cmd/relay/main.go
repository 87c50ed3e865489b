package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sameerk/feedrelay/internal/config"
	"github.com/sameerk/feedrelay/internal/httpapi"
	"github.com/sameerk/feedrelay/internal/hub"
	"github.com/sameerk/feedrelay/internal/instrument"
	"github.com/sameerk/feedrelay/internal/normalize"
	"github.com/sameerk/feedrelay/internal/pipeline"
	"github.com/sameerk/feedrelay/internal/poller"
	"github.com/sameerk/feedrelay/internal/smartapi"
	"github.com/sameerk/feedrelay/internal/store"
	"github.com/sameerk/feedrelay/internal/upstream"
	"github.com/sameerk/feedrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"instruments", len(cfg.Instruments),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool, logger)
	logger.Info("database connected")

	// Build the instrument table
	registry, err := instrument.NewRegistry(cfg.Instruments)
	if err != nil {
		logger.Error("failed to build instrument registry", "error", err)
		os.Exit(1)
	}

	// SmartAPI credential provider
	apiClient := smartapi.NewClient(cfg.SmartAPI,
		smartapi.WithLogger(logger),
	)

	// Upstream connector
	connector := upstream.NewConnector(upstreamConfig(cfg.Upstream), apiClient, registry, logger)

	// Broadcast hub and pipeline
	h := hub.New(cfg.Server.SubscriberQueueSize, logger)
	norm := normalize.New(registry, logger)
	pipe := pipeline.New(pipeline.Config{QuoteBufferSize: cfg.Writer.BufferSize},
		connector.Messages(), norm, h, logger)

	// Persistence writer
	writer := store.NewQuoteWriter(cfg.Writer, pipe.Quotes(), st, logger)

	// Start the data path writer-first so nothing downstream blocks.
	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start writer", "error", err)
		os.Exit(1)
	}
	if err := pipe.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	if err := connector.Start(ctx); err != nil {
		logger.Error("failed to start connector", "error", err)
		os.Exit(1)
	}

	// Optional REST fallback poller
	var restPoller *poller.Poller
	if cfg.Poller.Enabled {
		restPoller = poller.New(cfg.Poller, apiClient, registry, pipe, logger)
		restPoller.Start(ctx)
	}

	// HTTP API
	api := httpapi.NewServer(st, h, httpapi.StatsSources{
		Connector: connector,
		Pipeline:  pipe,
		Hub:       h,
		Writer:    writer,
		Poller:    restPoller,
	}, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("relay running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
		"stream_url", fmt.Sprintf("ws://localhost:%d/ws", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	if err := g.Wait(); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// The HTTP listener is down, but upgraded websocket sessions are
	// not covered by server.Shutdown; close them explicitly.
	h.Close()

	// Stop producers before consumers so in-flight quotes drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if restPoller != nil {
		restPoller.Stop()
	}
	if err := connector.Stop(shutdownCtx); err != nil {
		logger.Error("connector stop error", "error", err)
	}
	if err := pipe.Stop(shutdownCtx); err != nil {
		logger.Error("pipeline stop error", "error", err)
	}
	if err := writer.Stop(shutdownCtx); err != nil {
		logger.Error("writer stop error", "error", err)
	}

	logger.Info("relay stopped")
}

// upstreamConfig maps file configuration onto connector settings.
func upstreamConfig(c config.UpstreamConfig) upstream.Config {
	cfg := upstream.DefaultConfig()
	cfg.WSURL = c.WSURL
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}
	if c.SettleDelay > 0 {
		cfg.SettleDelay = c.SettleDelay
	}
	if c.SubscribeStagger > 0 {
		cfg.SubscribeStagger = c.SubscribeStagger
	}
	if c.AckTimeout > 0 {
		cfg.AckTimeout = c.AckTimeout
	}
	if len(c.Modes) > 0 {
		cfg.Modes = c.Modes
	}
	if c.ReconnectBase > 0 {
		cfg.ReconnectBase = c.ReconnectBase
	}
	if c.ReconnectMax > 0 {
		cfg.ReconnectMax = c.ReconnectMax
	}
	if c.MaxReconnects > 0 {
		cfg.MaxReconnects = c.MaxReconnects
	}
	if c.MessageBufferSize > 0 {
		cfg.MessageBufferSize = c.MessageBufferSize
	}
	return cfg
}
