package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sameerk/feedrelay/internal/instrument"
)

// Connector supervises the single upstream feed connection. It owns the
// state machine, executes its commands, and forwards data frames to the
// pipeline. Exactly one connection exists at a time; concurrent connect
// attempts are prevented by the machine, not by callers.
type Connector struct {
	cfg      Config
	tokens   TokenSource
	registry *instrument.Registry
	logger   *slog.Logger

	out    chan RawMessage
	events chan EventKind

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	machine *Machine // Driven only by the supervisor goroutine

	mu         sync.Mutex
	client     *Client
	retryTimer *time.Timer
	ackTimer   *time.Timer
	generation int // Bumped on every teardown so stale goroutines exit

	// Published for Stats readers
	stateMu  sync.RWMutex
	pubState State
	pubTries int

	received  atomic.Int64
	control   atomic.Int64
	malformed atomic.Int64
	dropped   atomic.Int64
	subsSent  atomic.Int64

	lastMsgMu sync.Mutex
	lastMsgAt time.Time
}

// NewConnector creates a connector. Start must be called before any
// messages flow.
func NewConnector(cfg Config, tokens TokenSource, registry *instrument.Registry, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		cfg:      cfg,
		tokens:   tokens,
		registry: registry,
		logger:   logger,
		out:      make(chan RawMessage, cfg.MessageBufferSize),
		events:   make(chan EventKind, 32),
		machine: NewMachine(BackoffPolicy{
			Base:        cfg.ReconnectBase,
			Max:         cfg.ReconnectMax,
			MaxAttempts: cfg.MaxReconnects,
		}),
	}
}

// Start launches the supervisor and triggers the first connect attempt.
func (c *Connector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.supervise()

	c.post(EvTokensReady)

	c.logger.Info("feed connector started",
		"ws_url", c.cfg.WSURL,
		"instruments", c.registry.Len(),
		"modes", c.cfg.Modes,
	)
	return nil
}

// Stop shuts the connector down and closes the message channel.
func (c *Connector) Stop(ctx context.Context) error {
	c.logger.Info("stopping feed connector")

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All producers (supervisor, dial, pump) are gone; now the
		// channel can close without racing a send.
		c.closeOnce.Do(func() { close(c.out) })
		c.logger.Info("feed connector stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("feed connector stop timed out")
		return ctx.Err()
	}
}

// Messages returns the channel of data frames for the pipeline.
func (c *Connector) Messages() <-chan RawMessage {
	return c.out
}

// Reset re-arms a Failed connector with a fresh attempt budget. It is
// the external trigger a human (or a re-login flow) pulls after the
// retry budget ran out.
func (c *Connector) Reset() {
	c.tokens.Invalidate()
	c.post(EvReset)
}

// State returns the connector's current lifecycle state.
func (c *Connector) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.pubState
}

// Stats returns a snapshot of connector health.
func (c *Connector) Stats() Stats {
	c.stateMu.RLock()
	state := c.pubState
	tries := c.pubTries
	c.stateMu.RUnlock()

	c.lastMsgMu.Lock()
	last := c.lastMsgAt
	c.lastMsgMu.Unlock()

	return Stats{
		State:             state.String(),
		Attempts:          tries,
		MessagesReceived:  c.received.Load(),
		ControlFrames:     c.control.Load(),
		MalformedFrames:   c.malformed.Load(),
		DroppedMessages:   c.dropped.Load(),
		LastMessageAt:     last,
		SubscriptionsSent: int(c.subsSent.Load()),
	}
}

// supervise is the single goroutine that drives the state machine.
func (c *Connector) supervise() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			// The pump may still be draining buffered frames into out;
			// Stop closes it once every goroutine has exited.
			c.apply(EvShutdown)
			c.stopTimers()
			return
		case ev := <-c.events:
			c.apply(ev)
		}
	}
}

func (c *Connector) apply(ev EventKind) {
	before := c.machine.State()
	cmds := c.machine.Apply(ev)
	after := c.machine.State()

	if before != after {
		c.logger.Info("connector state change",
			"from", before.String(),
			"to", after.String(),
			"attempts", c.machine.Attempts(),
		)
	}

	c.stateMu.Lock()
	c.pubState = after
	c.pubTries = c.machine.Attempts()
	c.stateMu.Unlock()

	for _, cmd := range cmds {
		c.execute(cmd)
	}
}

func (c *Connector) execute(cmd Command) {
	switch cmd := cmd.(type) {
	case Dial:
		c.wg.Add(1)
		go c.dial()

	case OpenStream:
		c.wg.Add(1)
		go c.openStream(c.currentGeneration())

	case CloseConn:
		c.teardown()

	case ScheduleRetry:
		c.scheduleRetry(cmd.Delay)

	case GiveUp:
		c.logger.Error("reconnect budget exhausted, stopping automatic reconnects",
			"attempts", cmd.Attempts,
			"max", c.cfg.MaxReconnects,
		)
	}
}

// dial fetches credentials and opens a new connection.
func (c *Connector) dial() {
	defer c.wg.Done()

	creds, err := c.tokens.Tokens(c.ctx)
	if err != nil || !creds.Valid() {
		if err == nil {
			err = ErrMissingCredentials
		}
		c.logger.Error("credentials unavailable, not attempting connect", "error", err)
		c.post(EvTokensUnavailable)
		return
	}

	client := NewClient(ClientConfig{
		URL:            c.dialURL(creds),
		ConnectTimeout: c.cfg.ConnectTimeout,
		WriteTimeout:   c.cfg.WriteTimeout,
		BufferSize:     c.cfg.MessageBufferSize,
	}, c.logger)

	if err := client.Connect(c.ctx); err != nil {
		c.logger.Warn("upstream dial failed", "error", err)
		if isRateLimitErr(err) {
			c.post(EvRateLimited)
		} else {
			c.post(EvDialFailed)
		}
		return
	}

	gen := c.installClient(client)

	c.wg.Add(1)
	go c.pump(client, gen)

	c.post(EvDialOK)
}

// dialURL builds the feed endpoint with credential query parameters.
func (c *Connector) dialURL(creds Credentials) string {
	q := url.Values{}
	q.Set("clientCode", creds.ClientCode)
	q.Set("feedToken", creds.FeedToken)
	q.Set("apiKey", creds.APIKey)
	return c.cfg.WSURL + "?" + q.Encode()
}

// openStream runs the post-handshake sequence: heartbeat first, settle
// delay, then one subscribe frame per (instrument, mode), staggered so
// the whole set is never sent in a single burst.
func (c *Connector) openStream(gen int) {
	defer c.wg.Done()

	client := c.clientFor(gen)
	if client == nil {
		return
	}

	hb, _ := json.Marshal(heartbeatRequest{
		Action: "heartbeat",
		Params: heartbeatParams{Timestamp: time.Now().UnixMilli()},
	})
	if err := client.Send(hb); err != nil {
		c.logger.Warn("heartbeat send failed", "error", err)
		return
	}

	if !c.sleep(c.cfg.SettleDelay) {
		return
	}

	sent := 0
	for _, inst := range c.registry.All() {
		for _, mode := range c.cfg.Modes {
			if client = c.clientFor(gen); client == nil {
				return
			}

			frame, _ := json.Marshal(subscribeRequest{
				Action: "subscribe",
				Params: subscribeParams{
					Mode: mode,
					TokenList: []tokenGroup{{
						ExchangeType: exchangeTypeFor(inst.Key.ExchangeSegment),
						Tokens:       []string{inst.Key.Token},
					}},
				},
			})

			if err := client.Send(frame); err != nil {
				c.logger.Warn("subscribe send failed",
					"symbol", inst.Symbol,
					"mode", mode,
					"error", err,
				)
				return
			}
			sent++
			c.subsSent.Store(int64(sent))

			if !c.sleep(c.cfg.SubscribeStagger) {
				return
			}
		}
	}

	c.logger.Info("subscription fan-out complete", "frames", sent)
	c.armAckTimer(gen)
}

// armAckTimer schedules the implicit-ack transition for connections
// that never see a data frame.
func (c *Connector) armAckTimer(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	c.ackTimer = time.AfterFunc(c.cfg.AckTimeout, func() {
		c.post(EvAckTimeout)
	})
}

// pump consumes frames and errors from one connection until it dies.
func (c *Connector) pump(client *Client, gen int) {
	defer c.wg.Done()

	firstData := false

	for {
		select {
		case <-c.ctx.Done():
			return

		case err := <-client.Errors():
			if c.currentGeneration() != gen {
				return
			}
			c.logger.Warn("upstream connection error", "error", err)
			if isRateLimitErr(err) {
				c.post(EvRateLimited)
			} else {
				c.post(EvConnError)
			}
			return

		case msg, ok := <-client.Messages():
			if !ok {
				if c.currentGeneration() == gen {
					c.logger.Warn("upstream connection closed")
					c.post(EvConnClosed)
				}
				return
			}

			if !c.handleFrame(msg) {
				continue
			}

			if !firstData {
				firstData = true
				c.post(EvFirstData)
			}
		}
	}
}

// handleFrame classifies one inbound frame. Control and malformed
// frames are consumed here; only data-shaped frames reach the pipeline.
// Returns true when a data frame was forwarded.
func (c *Connector) handleFrame(msg RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &fields); err != nil {
		c.malformed.Add(1)
		c.logger.Warn("discarding non-JSON frame", "bytes", len(msg.Data))
		return false
	}

	if _, isControl := fields["action"]; isControl {
		c.control.Add(1)
		var ctl controlEnvelope
		json.Unmarshal(msg.Data, &ctl)
		if strings.Contains(ctl.Message, "429") || strings.Contains(strings.ToLower(ctl.Message), "rate") {
			c.logger.Warn("upstream throttle notice", "message", ctl.Message)
			c.post(EvRateLimited)
			return false
		}
		c.logger.Debug("control frame", "action", ctl.Action)
		return false
	}

	if _, isData := fields["token"]; !isData {
		c.malformed.Add(1)
		c.logger.Debug("discarding frame without token field")
		return false
	}

	c.received.Add(1)
	c.lastMsgMu.Lock()
	c.lastMsgAt = msg.ReceivedAt
	c.lastMsgMu.Unlock()

	select {
	case c.out <- msg:
		return true
	default:
		c.dropped.Add(1)
		c.logger.Warn("pipeline buffer full, dropping frame")
		return false
	}
}

// installClient swaps in a freshly connected client and returns its
// generation.
func (c *Connector) installClient(client *Client) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = client
	c.generation++
	return c.generation
}

// teardown closes the live connection and clears per-connection state.
func (c *Connector) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.generation++
	c.subsSent.Store(0)
}

func (c *Connector) scheduleRetry(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.logger.Info("scheduling reconnect", "delay", delay)
	c.retryTimer = time.AfterFunc(delay, func() {
		c.post(EvRetryDue)
	})
}

func (c *Connector) stopTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

func (c *Connector) currentGeneration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Connector) clientFor(gen int) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.client == nil || !c.client.IsConnected() {
		return nil
	}
	return c.client
}

// sleep waits d or until shutdown; returns false on shutdown.
func (c *Connector) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Connector) post(ev EventKind) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// isRateLimitErr recognizes upstream throttling in transport errors.
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*websocket.CloseError); ok && ce.Code == websocket.ClosePolicyViolation {
		return true
	}
	return strings.Contains(err.Error(), "429") ||
		strings.Contains(strings.ToLower(err.Error()), "rate limit")
}
