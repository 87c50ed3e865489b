// Package poller periodically fetches full quotes over REST as a
// fallback data path when streaming coverage is thin, feeding the same
// pipeline as the websocket connector.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sameerk/feedrelay/internal/config"
	"github.com/sameerk/feedrelay/internal/instrument"
	"github.com/sameerk/feedrelay/internal/model"
	"github.com/sameerk/feedrelay/internal/pipeline"
	"github.com/sameerk/feedrelay/internal/smartapi"
)

// QuoteFetcher fetches full quotes for tokens grouped by exchange segment.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, exchangeTokens map[string][]string) ([]smartapi.QuoteData, error)
}

// Poller drives periodic REST quote fetches.
type Poller struct {
	cfg      config.PollerConfig
	fetcher  QuoteFetcher
	registry *instrument.Registry
	sink     *pipeline.Pipeline
	logger   *slog.Logger

	polls   atomic.Int64
	quotes  atomic.Int64
	errors  atomic.Int64
	skipped atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Stats reports poller activity counters.
type Stats struct {
	Polls         int64 `json:"polls"`
	QuotesFetched int64 `json:"quotes_fetched"`
	Errors        int64 `json:"errors"`
	Skipped       int64 `json:"skipped"`
}

// New creates a poller. The sink receives one record per fetched quote.
func New(cfg config.PollerConfig, fetcher QuoteFetcher, registry *instrument.Registry, sink *pipeline.Pipeline, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:      cfg,
		fetcher:  fetcher,
		registry: registry,
		sink:     sink,
		logger:   logger.With("component", "poller"),
	}
}

// Start begins the poll loop. Returns immediately.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("poller started", "interval", p.cfg.Interval)
}

// Stop halts polling and waits for the in-flight poll to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// First poll immediately so the cache warms without waiting a full interval.
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.polls.Add(1)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	tokens := p.registry.TokensByExchange()
	if len(tokens) == 0 {
		return
	}

	fetched, err := p.fetcher.FetchQuotes(ctx, tokens)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("poll failed", "error", err)
		return
	}

	now := time.Now()
	for _, q := range fetched {
		inst, ok := p.registry.Resolve(q.SymbolToken)
		if !ok {
			p.skipped.Add(1)
			continue
		}
		p.sink.Submit(model.QuoteRecord{
			Symbol:          inst.Symbol,
			Token:           q.SymbolToken,
			LastTradedPrice: q.LTP,
			NetChange:       q.NetChange,
			PercentChange:   q.PercentChange,
			Open:            q.Open,
			High:            q.High,
			Low:             q.Low,
			Volume:          q.TradeVolume,
			ObservedAt:      now,
		})
		p.quotes.Add(1)
	}

	p.logger.Debug("poll complete", "fetched", len(fetched))
}

// Stats returns a snapshot of activity counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:         p.polls.Load(),
		QuotesFetched: p.quotes.Load(),
		Errors:        p.errors.Load(),
		Skipped:       p.skipped.Load(),
	}
}
