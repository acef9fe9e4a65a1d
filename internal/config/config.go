// Package config provides configuration management for the alert relay.
// It handles loading and parsing YAML configuration files, applying environment
// overrides, and provides structured access to the relay's listen address,
// upstream alert source, session tuning, connection limits and admin surface.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenPort is the WebSocket port browsers connect to.
	DefaultListenPort = 8080
	// DefaultUpstreamPort is the alert server's client port.
	DefaultUpstreamPort = 9000
	// DefaultAdminAddr is where health, session listing and metrics are served.
	DefaultAdminAddr = "127.0.0.1:8081"
	// DefaultMaxLineBytes bounds a single unterminated upstream line.
	DefaultMaxLineBytes = 64 << 10

	// ModePerSession opens one upstream connection for every client session.
	ModePerSession = "per-session"
	// ModeShared multiplexes a single upstream connection to all sessions.
	ModeShared = "shared"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ALERTRELAY_"
)

// Config represents the relay configuration, loaded from a YAML file.
type Config struct {
	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to a rotating file under logs/.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the logs directory; the oldest files are removed first.
	// <= 0 disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	Server   ServerConfig   `yaml:"server" json:"server"`
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Limits   LimitsConfig   `yaml:"limits" json:"limits"`
	Admin    AdminConfig    `yaml:"admin" json:"admin"`
}

// ServerConfig describes the downstream WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// Path is the HTTP path accepted for WebSocket upgrades.
	Path string `yaml:"path" json:"path"`
}

// UpstreamConfig describes the alert source every session connects to.
type UpstreamConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Mode is either "per-session" (default) or "shared".
	Mode string `yaml:"mode" json:"mode"`

	DialTimeout  time.Duration `yaml:"dial-timeout" json:"dial-timeout"`
	MaxLineBytes int           `yaml:"max-line-bytes" json:"max-line-bytes"`
}

// SessionConfig tunes the client side of every session.
type SessionConfig struct {
	// HeartbeatInterval controls WebSocket ping frequency. <= 0 disables pings and read deadlines.
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval" json:"heartbeat-interval"`
	WriteTimeout      time.Duration `yaml:"write-timeout" json:"write-timeout"`
	// SendQueue is the per-subscriber queue depth used in shared mode.
	SendQueue int `yaml:"send-queue" json:"send-queue"`
}

// LimitsConfig bounds inbound connections. Zero disables a limit.
type LimitsConfig struct {
	MaxSessions int     `yaml:"max-sessions" json:"max-sessions"`
	MaxPerIP    int     `yaml:"max-per-ip" json:"max-per-ip"`
	AcceptRate  float64 `yaml:"accept-rate" json:"accept-rate"`
	AcceptBurst int     `yaml:"accept-burst" json:"accept-burst"`
}

// AdminConfig describes the operational HTTP listener. An empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: DefaultListenPort,
			Path: "/",
		},
		Upstream: UpstreamConfig{
			Host:         "127.0.0.1",
			Port:         DefaultUpstreamPort,
			Mode:         ModePerSession,
			DialTimeout:  5 * time.Second,
			MaxLineBytes: DefaultMaxLineBytes,
		},
		Session: SessionConfig{
			HeartbeatInterval: 30 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendQueue:         64,
		},
		Admin: AdminConfig{Addr: DefaultAdminAddr},
	}
}

// LoadConfig reads the YAML file at configFile on top of the defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads configFile on top of the defaults. When optional is true a
// missing or empty path yields the defaults instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(configFile) == "" {
		if optional {
			return cfg, nil
		}
		return nil, errors.New("config: no config file given")
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", configFile, err)
	}
	return cfg, nil
}

// ApplyEnv overlays ALERTRELAY_* variables resolved through lookup (usually os.LookupEnv).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		value, ok := lookup(EnvPrefix + key)
		if !ok {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}

	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	if v, ok := get("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %sDEBUG: %w", EnvPrefix, err))
		} else {
			c.Debug = b
		}
	}
	setString("LISTEN_HOST", &c.Server.Host)
	setInt("LISTEN_PORT", &c.Server.Port)
	setString("UPSTREAM_HOST", &c.Upstream.Host)
	setInt("UPSTREAM_PORT", &c.Upstream.Port)
	setString("UPSTREAM_MODE", &c.Upstream.Mode)
	// An empty admin address disables the listener, so a set-but-blank value counts.
	if v, ok := lookup(EnvPrefix + "ADMIN_ADDR"); ok {
		c.Admin.Addr = strings.TrimSpace(v)
	}
	setInt("MAX_SESSIONS", &c.Limits.MaxSessions)
	return errors.Join(errs...)
}

// SetUpstream parses a host:port pair into the upstream section.
func (c *Config) SetUpstream(hostport string) error {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(hostport))
	if err != nil {
		return fmt.Errorf("config: invalid upstream address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("config: invalid upstream port %q: %w", portStr, err)
	}
	c.Upstream.Host = host
	c.Upstream.Port = port
	return nil
}

// Validate normalizes derived fields and rejects unusable values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("config: upstream.port %d out of range", c.Upstream.Port)
	}
	if strings.TrimSpace(c.Upstream.Host) == "" {
		return errors.New("config: upstream.host is required")
	}
	path := strings.TrimSpace(c.Server.Path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	c.Server.Path = path

	switch strings.ToLower(strings.TrimSpace(c.Upstream.Mode)) {
	case "", ModePerSession:
		c.Upstream.Mode = ModePerSession
	case ModeShared:
		c.Upstream.Mode = ModeShared
	default:
		return fmt.Errorf("config: unknown upstream.mode %q", c.Upstream.Mode)
	}
	if c.Upstream.MaxLineBytes <= 0 {
		c.Upstream.MaxLineBytes = DefaultMaxLineBytes
	}
	if c.Upstream.DialTimeout <= 0 {
		c.Upstream.DialTimeout = 5 * time.Second
	}
	if c.Session.WriteTimeout <= 0 {
		c.Session.WriteTimeout = 10 * time.Second
	}
	if c.Session.SendQueue <= 0 {
		c.Session.SendQueue = 64
	}
	if c.Limits.MaxSessions < 0 || c.Limits.MaxPerIP < 0 || c.Limits.AcceptRate < 0 || c.Limits.AcceptBurst < 0 {
		return errors.New("config: limits must not be negative")
	}
	return nil
}

// ListenAddr returns the host:port the WebSocket listener binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// UpstreamAddr returns the host:port of the alert source.
func (c *Config) UpstreamAddr() string {
	return net.JoinHostPort(c.Upstream.Host, strconv.Itoa(c.Upstream.Port))
}
