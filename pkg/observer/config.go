package observer

import (
	"fmt"
	"time"
)

// LoadBalancingStrategy selects which sessions the maintenance sweep visits
// first when the pool must shed load.
type LoadBalancingStrategy string

const (
	StrategyRoundRobin  LoadBalancingStrategy = "roundRobin"
	StrategyLeastLoaded LoadBalancingStrategy = "leastLoaded"
	StrategyWeighted    LoadBalancingStrategy = "weighted"
)

// ProtocolVersion is the observer wire protocol version this server speaks.
const ProtocolVersion = 1

// Config tunes the observer pool. Zero values take defaults.
type Config struct {
	MinConnections        int                   `yaml:"min_connections"`
	MaxConnections        int                   `yaml:"max_connections"`
	ConnectionTTL         time.Duration         `yaml:"connection_ttl"`
	IdleTimeout           time.Duration         `yaml:"idle_timeout"`
	AcquireTimeout        time.Duration         `yaml:"acquire_timeout"`
	HeartbeatInterval     time.Duration         `yaml:"heartbeat_interval"`
	HeartbeatTimeout      time.Duration         `yaml:"heartbeat_timeout"`
	LoadBalancingStrategy LoadBalancingStrategy `yaml:"load_balancing_strategy"`
	EnableBackfill        bool                  `yaml:"enable_backfill"`
	OriginAllowlist       []string              `yaml:"origin_allowlist"`

	// QueueSize bounds each session's outbound queue.
	QueueSize int `yaml:"queue_size"`
	// DropThreshold: drops within DropWindow that mark a session UNHEALTHY.
	DropThreshold int           `yaml:"drop_threshold"`
	DropWindow    time.Duration `yaml:"drop_window"`
	// MissedPongLimit: consecutive unanswered pings before UNHEALTHY.
	MissedPongLimit int `yaml:"missed_pong_limit"`
	// BacklogSize bounds the ring of recent events kept for resync/backfill.
	BacklogSize int `yaml:"backlog_size"`
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AuthToken, when set, must match the handshake's token.
	AuthToken string `yaml:"auth_token"`
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.MinConnections <= 0 {
		c.MinConnections = 2
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.ConnectionTTL <= 0 {
		c.ConnectionTTL = time.Hour
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.LoadBalancingStrategy == "" {
		c.LoadBalancingStrategy = StrategyRoundRobin
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DropThreshold <= 0 {
		c.DropThreshold = 50
	}
	if c.DropWindow <= 0 {
		c.DropWindow = 10 * time.Second
	}
	if c.MissedPongLimit <= 0 {
		c.MissedPongLimit = 3
	}
	if c.BacklogSize <= 0 {
		c.BacklogSize = 512
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Validate rejects unusable configurations.
func (c Config) Validate() error {
	if c.MaxConnections > 0 && c.MinConnections > c.MaxConnections {
		return fmt.Errorf("observer: min_connections %d exceeds max_connections %d",
			c.MinConnections, c.MaxConnections)
	}
	switch c.LoadBalancingStrategy {
	case "", StrategyRoundRobin, StrategyLeastLoaded, StrategyWeighted:
	default:
		return fmt.Errorf("observer: unknown load_balancing_strategy %q", c.LoadBalancingStrategy)
	}
	return nil
}
