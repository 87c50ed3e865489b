// feedprobe connects to the SmartAPI stream and prints normalized quotes
// to the console. Useful for verifying credentials and the instrument
// table before running the relay.
//
// Usage: go run ./cmd/feedprobe --config configs/relay.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sameerk/feedrelay/internal/config"
	"github.com/sameerk/feedrelay/internal/instrument"
	"github.com/sameerk/feedrelay/internal/normalize"
	"github.com/sameerk/feedrelay/internal/smartapi"
	"github.com/sameerk/feedrelay/internal/upstream"
)

func main() {
	configPath := flag.String("config", "configs/relay.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print raw frame JSON")
	duration := flag.Duration("duration", 0, "stop after this long (0 = run until interrupted)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	registry, err := instrument.NewRegistry(cfg.Instruments)
	if err != nil {
		logger.Error("failed to build instrument registry", "error", err)
		os.Exit(1)
	}

	apiClient := smartapi.NewClient(cfg.SmartAPI, smartapi.WithLogger(logger))

	ucfg := upstream.DefaultConfig()
	ucfg.WSURL = cfg.Upstream.WSURL

	connector := upstream.NewConnector(ucfg, apiClient, registry, logger)
	if err := connector.Start(ctx); err != nil {
		logger.Error("failed to start connector", "error", err)
		os.Exit(1)
	}

	norm := normalize.New(registry, logger)

	// Stop on signal/timeout; Stop is what closes the message channel
	// and ends the print loop below.
	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		stopped <- connector.Stop(stopCtx)
	}()

	fmt.Printf("probing %d instruments; ctrl-c to stop\n", registry.Len())

	count := 0
	for raw := range connector.Messages() {
		if *verbose {
			fmt.Println(string(raw.Data))
		}
		rec, ok := norm.Normalize(raw.Data, raw.ReceivedAt)
		if !ok {
			continue
		}
		count++
		fmt.Printf("%-16s ltp=%.2f chg=%+.2f (%+.2f%%) o=%.2f h=%.2f l=%.2f vol=%d\n",
			rec.Symbol, rec.LastTradedPrice, rec.NetChange, rec.PercentChange,
			rec.Open, rec.High, rec.Low, rec.Volume)
	}

	if err := <-stopped; err != nil {
		logger.Error("connector stop error", "error", err)
	}

	stats := connector.Stats()
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Printf("quotes printed: %d\nconnector stats: %s\n", count, out)
}
