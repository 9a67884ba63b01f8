package config

import "crypto/tls"

// buildTLSConfig builds a *tls.Config for the connection engine from the
// cert/key file pair and flags a YAML file can express. Returns nil when
// neither cert nor key file is set and TLSInsecureSkipVerify is false, so
// the engine falls back to conn.DefaultConfig's own minimal TLS config (TLS
// 1.2 floor). The key pair is loaded only when both files are set.
func (c EngineConfig) buildTLSConfig() (*tls.Config, error) {
	if c.TLSCertFile == "" && c.TLSKeyFile == "" && !c.TLSInsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLSInsecureSkipVerify,
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
