// Package config loads the TOML configuration shared by sockoptctl and sockoptd.
//
//	socket_path    = "/var/run/fastlb_ctrl"
//	timeout        = "2s"
//	max_body_bytes = 67108864
//
//	[log]
//	level = "info"
//
//	[registry]
//	endpoints = ["127.0.0.1:2379"]
//	service   = "fastlb"
//
//	[server]
//	metrics_addr    = ":9477"
//	handler_timeout = "5s"
//	rate_limit      = 200.0
//	burst           = 50
//	socket_mode     = 0o660
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"sockopt/logging"
	"sockopt/message"
	"sockopt/transport"
)

const (
	EnvSocketPath = "SOCKOPT_SOCKET_PATH"
	EnvTimeout    = "SOCKOPT_TIMEOUT"
)

type Config struct {
	SocketPath string `toml:"socket_path"`
	// Timeout bounds a whole client transaction. Zero blocks indefinitely.
	Timeout      time.Duration  `toml:"timeout"`
	MaxBodyBytes uint64         `toml:"max_body_bytes"`
	Codec        string         `toml:"codec"`
	Log          logging.Config `toml:"log"`
	Registry     Registry       `toml:"registry"`
	Server       Server         `toml:"server"`
}

type Registry struct {
	Endpoints []string `toml:"endpoints"`
	Service   string   `toml:"service"`
	Balancer  string   `toml:"balancer"`
	TTL       int64    `toml:"ttl"`
}

// Enabled reports whether endpoint discovery through etcd is configured.
func (r Registry) Enabled() bool {
	return len(r.Endpoints) > 0 && r.Service != ""
}

type Server struct {
	MetricsAddr    string        `toml:"metrics_addr"`
	HandlerTimeout time.Duration `toml:"handler_timeout"`
	RateLimit      float64       `toml:"rate_limit"` // requests per second, 0 disables
	Burst          int           `toml:"burst"`
	SocketMode     uint32        `toml:"socket_mode"`
}

func Default() Config {
	return Config{
		SocketPath:   transport.DefaultSocketPath,
		MaxBodyBytes: message.DefaultMaxBody,
		Codec:        "binary",
		Log:          logging.DefaultConfig(),
		Registry: Registry{
			Balancer: "round_robin",
			TTL:      10,
		},
		Server: Server{
			SocketMode: 0o660,
		},
	}
}

// Load reads path on top of the defaults. An empty path yields the defaults.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvSocketPath)); v != "" {
		cfg.SocketPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	return nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c Config) Validate() error {
	var errs []error
	if c.SocketPath == "" && !c.Registry.Enabled() {
		errs = append(errs, errors.New("socket_path is empty and no registry is configured"))
	}
	// sun_path holds 108 bytes including the terminator on Linux.
	if len(c.SocketPath) > 107 {
		errs = append(errs, fmt.Errorf("socket_path longer than 107 bytes: %q", c.SocketPath))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative: %s", c.Timeout))
	}
	if c.MaxBodyBytes == 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	switch c.Codec {
	case "binary", "json":
	default:
		errs = append(errs, fmt.Errorf("codec must be binary or json, got %q", c.Codec))
	}
	if c.Registry.Enabled() && c.Registry.TTL <= 0 {
		errs = append(errs, fmt.Errorf("registry.ttl must be positive, got %d", c.Registry.TTL))
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		errs = append(errs, errors.New("server.rate_limit and server.burst must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.Burst == 0 {
		errs = append(errs, errors.New("server.burst must be positive when rate_limit is set"))
	}
	if c.Server.HandlerTimeout < 0 {
		errs = append(errs, errors.New("server.handler_timeout must not be negative"))
	}
	if c.Server.SocketMode > 0o777 {
		errs = append(errs, fmt.Errorf("server.socket_mode out of range: %o", c.Server.SocketMode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
