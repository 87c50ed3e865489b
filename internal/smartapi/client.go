// Package smartapi is the SmartAPI REST client: it logs in with
// MPIN + TOTP to mint session and feed tokens, and fetches full quotes
// for the poller path. It is the relay's credential provider.
package smartapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sameerk/feedrelay/internal/config"
	"github.com/sameerk/feedrelay/internal/upstream"
)

// Client provides access to the SmartAPI REST endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	clientCode string
	mpin       string
	totpSecret string

	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	// Cached session; guarded by tokenMu.
	tokenMu sync.Mutex
	cached  upstream.Credentials
	valid   bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a SmartAPI client from config.
func NewClient(cfg config.SmartAPIConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    cfg.RestURL,
		apiKey:     cfg.APIKey,
		clientCode: cfg.ClientCode,
		mpin:       cfg.MPIN,
		totpSecret: cfg.TOTPSecret,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:       slog.Default(),
		maxRetries:   cfg.MaxRetries,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}
