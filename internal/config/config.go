package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance    InstanceConfig     `yaml:"instance"`
	SmartAPI    SmartAPIConfig     `yaml:"smartapi"`
	Upstream    UpstreamConfig     `yaml:"upstream"`
	Database    DBConfig           `yaml:"database"`
	Writer      WriterConfig       `yaml:"writer"`
	Server      ServerConfig       `yaml:"server"`
	Poller      PollerConfig       `yaml:"poller"`
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SmartAPIConfig holds SmartAPI REST credentials and settings.
type SmartAPIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	APIKey     string        `yaml:"api_key"`     // X-PrivateKey header value
	ClientCode string        `yaml:"client_code"` // Broker client identifier
	MPIN       string        `yaml:"mpin"`
	TOTPSecret string        `yaml:"totp_secret"` // Base32 TOTP seed
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// UpstreamConfig holds feed connector settings.
type UpstreamConfig struct {
	WSURL             string        `yaml:"ws_url"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`      // Wait after heartbeat before first subscribe
	SubscribeStagger  time.Duration `yaml:"subscribe_stagger"` // Delay between successive subscribe frames
	AckTimeout        time.Duration `yaml:"ack_timeout"`       // Implicit subscription ack timeout
	Modes             []int         `yaml:"modes"`             // Data granularity modes (1=LTP, 2=Quote, 3=SnapQuote)
	ReconnectBase     time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMax      time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnects     int           `yaml:"max_reconnect_attempts"`
	MessageBufferSize int           `yaml:"message_buffer_size"`
}

// DBConfig holds the Postgres connection for quote history.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// ServerConfig holds the downstream HTTP/websocket server settings.
type ServerConfig struct {
	Port                int `yaml:"port"`
	SubscriberQueueSize int `yaml:"subscriber_queue_size"`
}

// PollerConfig holds REST quote poller settings.
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InstrumentConfig is one row of the static instrument table.
type InstrumentConfig struct {
	Exchange string `yaml:"exchange"`
	Token    string `yaml:"token"`
	Symbol   string `yaml:"symbol"`
}
