package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL             = "https://apiconnect.angelone.in"
	DefaultWSURL               = "wss://smartapisocket.angelone.in/smart-stream"
	DefaultAPITimeout          = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultConnectTimeout      = 10 * time.Second
	DefaultSettleDelay         = 1 * time.Second
	DefaultSubscribeStagger    = 200 * time.Millisecond
	DefaultAckTimeout          = 5 * time.Second
	DefaultReconnectBase       = 5 * time.Second
	DefaultReconnectMax        = 30 * time.Second
	DefaultMaxReconnects       = 5
	DefaultMessageBufferSize   = 10000
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 100
	DefaultFlushInterval       = 1 * time.Second
	DefaultWriterBufferSize    = 10000
	DefaultServerPort          = 8080
	DefaultSubscriberQueueSize = 256
	DefaultPollInterval        = 1 * time.Minute
	DefaultPollTimeout         = 10 * time.Second
)

func (c *RelayConfig) applyDefaults() {
	// SmartAPI defaults
	if c.SmartAPI.RestURL == "" {
		c.SmartAPI.RestURL = DefaultRestURL
	}
	if c.SmartAPI.Timeout == 0 {
		c.SmartAPI.Timeout = DefaultAPITimeout
	}
	if c.SmartAPI.MaxRetries == 0 {
		c.SmartAPI.MaxRetries = DefaultMaxRetries
	}

	// Upstream defaults
	if c.Upstream.WSURL == "" {
		c.Upstream.WSURL = DefaultWSURL
	}
	if c.Upstream.ConnectTimeout == 0 {
		c.Upstream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Upstream.SettleDelay == 0 {
		c.Upstream.SettleDelay = DefaultSettleDelay
	}
	if c.Upstream.SubscribeStagger == 0 {
		c.Upstream.SubscribeStagger = DefaultSubscribeStagger
	}
	if c.Upstream.AckTimeout == 0 {
		c.Upstream.AckTimeout = DefaultAckTimeout
	}
	if len(c.Upstream.Modes) == 0 {
		c.Upstream.Modes = []int{1, 2, 3}
	}
	if c.Upstream.ReconnectBase == 0 {
		c.Upstream.ReconnectBase = DefaultReconnectBase
	}
	if c.Upstream.ReconnectMax == 0 {
		c.Upstream.ReconnectMax = DefaultReconnectMax
	}
	if c.Upstream.MaxReconnects == 0 {
		c.Upstream.MaxReconnects = DefaultMaxReconnects
	}
	if c.Upstream.MessageBufferSize == 0 {
		c.Upstream.MessageBufferSize = DefaultMessageBufferSize
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultWriterBufferSize
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.SubscriberQueueSize == 0 {
		c.Server.SubscriberQueueSize = DefaultSubscriberQueueSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
}
