package conn

import (
	"crypto/tls"
	"time"

	"github.com/openbtps/btps-go/wire"
)

// Config controls one Engine's retry policy, timeouts, and TLS settings.
type Config struct {
	MaxRetries        int
	RetryDelay        time.Duration
	ConnectionTimeout time.Duration
	TLSConfig         *tls.Config
}

// DefaultConfig applies the spec's defaults: 5 retries, 1s retry delay, 30s
// connection timeout.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        wire.DefaultMaxRetries,
		RetryDelay:        wire.DefaultRetryDelay,
		ConnectionTimeout: wire.DefaultConnTimeout,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.TLSConfig == nil {
		c.TLSConfig = d.TLSConfig
	}
	return c
}
