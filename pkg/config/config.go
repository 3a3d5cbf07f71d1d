// Configuration management for the node daemon
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration
type Config struct {
	Node        NodeConfig        `mapstructure:"node"`
	SafeMode    SafeModeConfig    `mapstructure:"safemode"`
	API         APIConfig         `mapstructure:"api"`
	P2P         P2PConfig         `mapstructure:"p2p"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// NodeConfig for chain state and storage
type NodeConfig struct {
	DataDir         string `mapstructure:"data_dir"`
	HeaderStorePath string `mapstructure:"header_store_path"`
	AlertCommand    string `mapstructure:"alert_command"` // %s is replaced by the alert message
}

// SafeModeConfig controls dangerous-fork detection
type SafeModeConfig struct {
	MinForkLength           int64         `mapstructure:"min_fork_length"`
	MaxForkDistance         int64         `mapstructure:"max_fork_distance"`
	MinForkHeightDifference int64         `mapstructure:"min_fork_height_difference"`
	WebhookAddress          string        `mapstructure:"webhook_address"` // empty disables webhook dispatch
	WebhookTimeout          time.Duration `mapstructure:"webhook_timeout"`
	WebhookQueueSize        int           `mapstructure:"webhook_queue_size"`
	WebhookMaxRetries       int           `mapstructure:"webhook_max_retries"`
	WebhookRetryBackoff     time.Duration `mapstructure:"webhook_retry_backoff"`
}

// APIConfig for REST API server
type APIConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// P2PConfig for peer-to-peer header gossip
type P2PConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ListenAddrs    []string `mapstructure:"listen_addrs"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	HeadersTopic   string   `mapstructure:"headers_topic"`
}

// RateLimiterConfig for request rate limiting
type RateLimiterConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	IPLimit         int           `mapstructure:"ip_limit"`
	IPWindow        time.Duration `mapstructure:"ip_window"`
	GlobalLimit     int           `mapstructure:"global_limit"`
	GlobalWindow    time.Duration `mapstructure:"global_window"`
	BurstMultiplier float64       `mapstructure:"burst_multiplier"`
}

// MetricsConfig for Prometheus metrics
type MetricsConfig struct {
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

// Default configuration
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:         ".",
			HeaderStorePath: "headers.db",
			AlertCommand:    "",
		},
		SafeMode: SafeModeConfig{
			MinForkLength:           3,
			MaxForkDistance:         1000,
			MinForkHeightDifference: 6,
			WebhookAddress:          "",
			WebhookTimeout:          10 * time.Second,
			WebhookQueueSize:        64,
			WebhookMaxRetries:       3,
			WebhookRetryBackoff:     2 * time.Second,
		},
		API: APIConfig{
			Port:           8332,
			Host:           "0.0.0.0",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			EnableCORS:     false,
			TrustedProxies: []string{},
		},
		P2P: P2PConfig{
			Enabled:        true,
			ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/8333"},
			BootstrapPeers: []string{},
			HeadersTopic:   "svnode/headers/1",
		},
		RateLimiter: RateLimiterConfig{
			Enabled:         true,
			IPLimit:         100,
			IPWindow:        time.Minute,
			GlobalLimit:     10000,
			GlobalWindow:    time.Minute,
			BurstMultiplier: 1.5,
		},
		Metrics: MetricsConfig{
			Port:    9090,
			Path:    "/metrics",
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from file or returns defaults
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Set defaults
	setDefaults(viper.GetViper())

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into struct
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SafeMode.MinForkLength < 1 {
		return fmt.Errorf("safemode min_fork_length must be >= 1, got %d", c.SafeMode.MinForkLength)
	}
	if c.SafeMode.MaxForkDistance < 0 {
		return fmt.Errorf("safemode max_fork_distance must be >= 0, got %d", c.SafeMode.MaxForkDistance)
	}
	if c.SafeMode.WebhookQueueSize < 1 {
		return fmt.Errorf("safemode webhook_queue_size must be >= 1, got %d", c.SafeMode.WebhookQueueSize)
	}

	// Validate ports
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.header_store_path", "headers.db")
	v.SetDefault("safemode.min_fork_length", 3)
	v.SetDefault("safemode.max_fork_distance", 1000)
	v.SetDefault("safemode.min_fork_height_difference", 6)
	v.SetDefault("safemode.webhook_queue_size", 64)
	v.SetDefault("api.port", 8332)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("p2p.headers_topic", "svnode/headers/1")
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("metrics.enabled", true)
}
