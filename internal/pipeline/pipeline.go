// Package pipeline connects the upstream connector to the persistence
// sink and the broadcast hub: every data frame is normalized once, then
// fanned out to both. Persistence and broadcast failures are isolated
// from each other and from ingestion.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sameerk/feedrelay/internal/model"
	"github.com/sameerk/feedrelay/internal/normalize"
	"github.com/sameerk/feedrelay/internal/upstream"
)

// Publisher pushes an incremental update to downstream subscribers.
type Publisher interface {
	Publish(model.QuoteRecord)
}

// Config holds pipeline settings.
type Config struct {
	QuoteBufferSize int // Initial capacity of the writer-bound buffer
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{QuoteBufferSize: 1000}
}

// Stats contains runtime counters.
type Stats struct {
	Received    int64
	Normalized  int64
	Dropped     int64
	QuoteBuffer BufferStats
}

// Pipeline consumes raw frames, normalizes them, and fans records out.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	input <-chan upstream.RawMessage
	norm  *normalize.Normalizer
	hub   Publisher

	quotes *GrowableBuffer[model.QuoteRecord]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	received   int64
	normalized int64
	dropped    int64
}

// New creates a pipeline reading from input.
func New(cfg Config, input <-chan upstream.RawMessage, norm *normalize.Normalizer, hub Publisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		input:  input,
		norm:   norm,
		hub:    hub,
		quotes: NewGrowableBuffer[model.QuoteRecord](cfg.QuoteBufferSize),
	}
}

// Start begins consuming raw frames.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.routeLoop()

	p.logger.Info("pipeline started", "quote_buffer", p.cfg.QuoteBufferSize)
	return nil
}

// Stop shuts the pipeline down and closes the writer buffer.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline stopped")
	case <-ctx.Done():
		p.logger.Warn("pipeline stop timed out")
	}

	p.quotes.Close()
	return nil
}

// Quotes returns the buffer the persistence writer consumes.
func (p *Pipeline) Quotes() *GrowableBuffer[model.QuoteRecord] {
	return p.quotes
}

// Submit pushes an already-normalized record into the fan-out. The REST
// poller path uses this to share the persistence and broadcast legs.
func (p *Pipeline) Submit(rec model.QuoteRecord) {
	p.mu.Lock()
	p.normalized++
	p.mu.Unlock()

	p.quotes.Send(rec)
	p.hub.Publish(rec)
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Received:    p.received,
		Normalized:  p.normalized,
		Dropped:     p.dropped,
		QuoteBuffer: p.quotes.Stats(),
	}
}

func (p *Pipeline) routeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case raw, ok := <-p.input:
			if !ok {
				p.logger.Info("upstream channel closed")
				return
			}
			p.route(raw)
		}
	}
}

func (p *Pipeline) route(raw upstream.RawMessage) {
	p.mu.Lock()
	p.received++
	p.mu.Unlock()

	rec, ok := p.norm.Normalize(raw.Data, raw.ReceivedAt)
	if !ok {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.normalized++
	p.mu.Unlock()

	p.quotes.Send(rec)
	p.hub.Publish(rec)
}
