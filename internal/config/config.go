// Package config holds the relay configuration: defaults, the optional YAML
// file and validation. CLI flags are applied on top by cmd/wsrelay.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents the chosen side of the tunnel (host or client).
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// EnvConfigPath names a config file when --config is not given.
const EnvConfigPath = "WSRELAY_CONFIG"

var (
	ErrInvalidRole   = errors.New("role must be 'host' or 'client'")
	ErrMissingURL    = errors.New("client role needs signaling.url")
	ErrInvalidConfig = errors.New("invalid config")
)

// Config stores every runtime parameter.
type Config struct {
	Role      Role            `yaml:"role"`
	Hub       HubConfig       `yaml:"hub"`
	Signaling SignalingConfig `yaml:"signaling"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// HubConfig configures the local websocket hub.
type HubConfig struct {
	Listen         string        `yaml:"listen"`
	Path           string        `yaml:"path"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// SignalingConfig configures the one-shot SDP/ICE exchange.
type SignalingConfig struct {
	Listen string `yaml:"listen"` // host
	URL    string `yaml:"url"`    // client
}

// TunnelConfig configures the WebRTC link.
type TunnelConfig struct {
	STUNServers []string `yaml:"stun_servers"`
	QueueLimit  int      `yaml:"queue_limit"` // 0 = unbounded
}

// MetricsConfig toggles the Prometheus endpoint on the hub listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures pterm logging and the stats reporter.
type LogConfig struct {
	Level         string        `yaml:"level"`
	Debug         bool          `yaml:"debug"`
	StatsInterval time.Duration `yaml:"stats_interval"` // 0 disables the reporter
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Listen:         "127.0.0.1:8080",
			Path:           "/ws",
			WriteTimeout:   5 * time.Second,
			MaxMessageSize: 1 << 20,
		},
		Signaling: SignalingConfig{
			Listen: ":0",
		},
		Tunnel: TunnelConfig{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:         "info",
			StatsInterval: time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, expanding ${VAR}
// references first. An empty path falls back to $WSRELAY_CONFIG, and to the
// defaults alone when that is unset too.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg; keys missing from data keep cfg's values.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks the fields the chosen role depends on.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHost:
		if c.Signaling.Listen == "" {
			return fmt.Errorf("%w: signaling.listen is empty", ErrInvalidConfig)
		}
	case RoleClient:
		if c.Signaling.URL == "" {
			return ErrMissingURL
		}
		u, err := url.Parse(c.Signaling.URL)
		if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("%w: signaling.url %q is not a ws:// or wss:// URL", ErrInvalidConfig, c.Signaling.URL)
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidRole, c.Role)
	}

	if c.Hub.Listen == "" {
		return fmt.Errorf("%w: hub.listen is empty", ErrInvalidConfig)
	}
	if c.Hub.Path == "" || c.Hub.Path[0] != '/' {
		return fmt.Errorf("%w: hub.path must start with '/'", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/' || c.Metrics.Path == c.Hub.Path) {
		return fmt.Errorf("%w: metrics.path must start with '/' and differ from hub.path", ErrInvalidConfig)
	}
	if c.Tunnel.QueueLimit < 0 {
		return fmt.Errorf("%w: tunnel.queue_limit must not be negative", ErrInvalidConfig)
	}
	if c.Hub.WriteTimeout < 0 || c.Log.StatsInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
