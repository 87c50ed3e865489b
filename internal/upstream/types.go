package upstream

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrConnectorFailed    = errors.New("connector failed, manual reset required")
)

// Credentials are the connection parameters the feed requires. All four
// must be non-empty before a connect attempt is made.
type Credentials struct {
	SessionToken string // REST session (JWT) token
	FeedToken    string // Streaming feed token
	ClientCode   string // Broker client identifier
	APIKey       string // SmartAPI application key
}

// Valid reports whether every required credential is present.
func (c Credentials) Valid() bool {
	return c.SessionToken != "" && c.FeedToken != "" && c.ClientCode != "" && c.APIKey != ""
}

// TokenSource supplies current credentials on demand. Implementations
// may log in lazily; Invalidate marks the cached tokens stale so the
// next Tokens call refreshes them.
type TokenSource interface {
	Tokens(ctx context.Context) (Credentials, error)
	Invalidate()
}

// RawMessage is a data frame handed from the connector to the pipeline.
type RawMessage struct {
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// subscribeRequest is the outbound subscription control frame.
type subscribeRequest struct {
	Action string          `json:"action"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Mode      int          `json:"mode"`
	TokenList []tokenGroup `json:"tokenList"`
}

type tokenGroup struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

// heartbeatRequest is the outbound heartbeat control frame.
type heartbeatRequest struct {
	Action string          `json:"action"`
	Params heartbeatParams `json:"params"`
}

type heartbeatParams struct {
	Timestamp int64 `json:"timestamp"`
}

// controlEnvelope distinguishes control frames (heartbeat echoes, error
// notices) from data frames: control carries an "action" field, data
// carries a "token" field.
type controlEnvelope struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}

// exchangeTypeFor maps an exchange segment name to the numeric code the
// feed protocol uses.
func exchangeTypeFor(segment string) int {
	switch segment {
	case "NSE":
		return 1
	case "NFO":
		return 2
	case "BSE":
		return 3
	case "MCX":
		return 5
	default:
		return 1
	}
}

// ClientConfig configures the websocket transport.
type ClientConfig struct {
	URL            string        // Full dial URL including credential query parameters
	ConnectTimeout time.Duration // Handshake timeout
	WriteTimeout   time.Duration // Write deadline for sends
	BufferSize     int           // Inbound message channel size
}

// Config configures the connector.
type Config struct {
	WSURL             string        // Feed endpoint (without credential parameters)
	ConnectTimeout    time.Duration // Dial/handshake timeout
	WriteTimeout      time.Duration // Per-frame write deadline
	SettleDelay       time.Duration // Wait between heartbeat and first subscribe
	SubscribeStagger  time.Duration // Delay between successive subscribe frames
	AckTimeout        time.Duration // Implicit subscription ack timeout
	Modes             []int         // Data granularity modes to subscribe per instrument
	ReconnectBase     time.Duration // Base backoff delay
	ReconnectMax      time.Duration // Backoff cap
	MaxReconnects     int           // Retry budget before Failed
	MessageBufferSize int           // Outbound data channel size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
		SettleDelay:       time.Second,
		SubscribeStagger:  200 * time.Millisecond,
		AckTimeout:        5 * time.Second,
		Modes:             []int{1, 2, 3},
		ReconnectBase:     5 * time.Second,
		ReconnectMax:      30 * time.Second,
		MaxReconnects:     5,
		MessageBufferSize: 10000,
	}
}

// Stats is a snapshot of connector health for diagnostics.
type Stats struct {
	State             string
	Attempts          int
	MessagesReceived  int64
	ControlFrames     int64
	MalformedFrames   int64
	DroppedMessages   int64
	LastMessageAt     time.Time
	SubscriptionsSent int
}
