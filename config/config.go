// Package config loads the ResolverConfig, EngineConfig, and PoolConfig a
// BTPS process needs from a YAML file, with environment-variable overrides
// and the protocol's DEFAULT_* constants applied to whatever is left
// zero-valued (spec §6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/transport/pool"
	"github.com/openbtps/btps-go/wire"
)

// Config is the root configuration structure for a BTPS server or agent
// process: one identity, one resolver policy, one connection-engine policy,
// one connection-pool policy.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Identity    string         `yaml:"identity" json:"identity"`
	Resolver    ResolverConfig `yaml:"resolver" json:"resolver"`
	Engine      EngineConfig   `yaml:"engine" json:"engine"`
	Pool        PoolConfig     `yaml:"pool" json:"pool"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ResolverConfig mirrors resolver.Config's fields for YAML loading.
type ResolverConfig struct {
	ServerAddr  string        `yaml:"server_addr" json:"server_addr"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// EngineConfig mirrors conn.Config's fields, plus the TLS material a YAML
// file can express (conn.Config itself takes a built *tls.Config).
type EngineConfig struct {
	MaxRetries            int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay            time.Duration `yaml:"retry_delay" json:"retry_delay"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	TLSCertFile           string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile            string        `yaml:"tls_key_file" json:"tls_key_file"`
	TLSInsecureSkipVerify bool          `yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`
}

// PoolConfig mirrors pool.Config's fields for YAML loading.
type PoolConfig struct {
	MaxConnections int           `yaml:"max_connections" json:"max_connections"`
	DefaultTTL     time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// LoggingConfig configures internal/logger's StructuredLogger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr
}

// MetricsConfig configures the Prometheus HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML file at path. A missing file
// is not an error: it yields an all-zero Config for setDefaults to fill in.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes cfg to path as YAML.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills zero-valued fields with the protocol-wide defaults from
// wire.Default* (spec §6).
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	resolverDefaults := resolver.DefaultConfig()
	if cfg.Resolver.ServerAddr == "" {
		cfg.Resolver.ServerAddr = resolverDefaults.ServerAddr
	}
	if cfg.Resolver.DialTimeout == 0 {
		cfg.Resolver.DialTimeout = resolverDefaults.DialTimeout
	}
	if cfg.Resolver.CacheTTL == 0 {
		cfg.Resolver.CacheTTL = resolverDefaults.CacheTTL
	}

	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = wire.DefaultMaxRetries
	}
	if cfg.Engine.RetryDelay == 0 {
		cfg.Engine.RetryDelay = wire.DefaultRetryDelay
	}
	if cfg.Engine.ConnectionTimeout == 0 {
		cfg.Engine.ConnectionTimeout = wire.DefaultConnTimeout
	}

	if cfg.Pool.MaxConnections == 0 {
		cfg.Pool.MaxConnections = wire.DefaultMaxConnections
	}
	if cfg.Pool.DefaultTTL == 0 {
		cfg.Pool.DefaultTTL = time.Duration(wire.DefaultConnectionTTLSeconds) * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// ToResolverConfig converts to the shape resolver.New consumes.
func (c ResolverConfig) ToResolverConfig() resolver.Config {
	return resolver.Config{
		ServerAddr:  c.ServerAddr,
		DialTimeout: c.DialTimeout,
		CacheTTL:    c.CacheTTL,
	}
}

// ToConnConfig converts to the shape conn.New consumes, building a
// *tls.Config from the cert/key file pair when both are set.
func (c EngineConfig) ToConnConfig() (conn.Config, error) {
	cfg := conn.Config{
		MaxRetries:        c.MaxRetries,
		RetryDelay:        c.RetryDelay,
		ConnectionTimeout: c.ConnectionTimeout,
	}
	tlsCfg, err := c.buildTLSConfig()
	if err != nil {
		return conn.Config{}, err
	}
	cfg.TLSConfig = tlsCfg
	return cfg, nil
}

// ToPoolConfig converts to the shape pool.New consumes.
func (c PoolConfig) ToPoolConfig() pool.Config {
	return pool.Config{
		MaxConnections: c.MaxConnections,
		DefaultTTL:     c.DefaultTTL,
	}
}
