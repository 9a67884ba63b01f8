package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvOverrides disables BTPS_* environment variable overrides
	SkipEnvOverrides bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:        "config",
		Environment:      "",
		SkipEnvOverrides: false,
	}
}

// Load loads configuration with automatic environment detection: it tries
// <ConfigDir>/<environment>.yaml, then <ConfigDir>/default.yaml, then
// <ConfigDir>/config.yaml, falling back to an all-default Config if none
// exist.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvOverrides {
		applyEnvironmentOverrides(cfg)
	}

	setDefaults(cfg)

	return cfg, nil
}

// loadConfigFile loads a single config file, treating a missing file as an
// error so Load can fall through to its next candidate path.
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with BTPS_* environment
// variables, taking priority over whatever the YAML file set.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("BTPS_IDENTITY"); v != "" {
		cfg.Identity = v
	}

	if v := os.Getenv("BTPS_RESOLVER_ADDR"); v != "" {
		cfg.Resolver.ServerAddr = v
	}

	if v := os.Getenv("BTPS_ENGINE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxRetries = n
		}
	}
	if v := os.Getenv("BTPS_ENGINE_TLS_CERT_FILE"); v != "" {
		cfg.Engine.TLSCertFile = v
	}
	if v := os.Getenv("BTPS_ENGINE_TLS_KEY_FILE"); v != "" {
		cfg.Engine.TLSKeyFile = v
	}
	if os.Getenv("BTPS_ENGINE_TLS_INSECURE_SKIP_VERIFY") == "true" {
		cfg.Engine.TLSInsecureSkipVerify = true
	}

	if v := os.Getenv("BTPS_POOL_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxConnections = n
		}
	}

	if v := os.Getenv("BTPS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BTPS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if os.Getenv("BTPS_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("BTPS_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
}

// LoadExact loads configuration from exactly one YAML file at path (no
// environment-detection search), still applying BTPS_* overrides and
// setDefaults. Used by callers (cmd/btpsctl's --config flag) that name a
// file directly rather than a search directory.
func LoadExact(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "" {
		cfg.Environment = GetEnvironment()
	}
	applyEnvironmentOverrides(cfg)
	setDefaults(cfg)
	return cfg, nil
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
