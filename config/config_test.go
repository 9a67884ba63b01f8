package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbtps/btps-go/config"
)

func TestLoadFromFileAppliesNoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "btps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
identity: "alice$example.com"
resolver:
  server_addr: "1.1.1.1:53"
engine:
  max_retries: 9
`), 0644))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "alice$example.com", cfg.Identity)
	require.Equal(t, "1.1.1.1:53", cfg.Resolver.ServerAddr)
	require.Equal(t, 9, cfg.Engine.MaxRetries)
	require.Zero(t, cfg.Pool.MaxConnections)
}

func TestLoadFromFileMissingFileYieldsEmptyConfig(t *testing.T) {
	cfg, err := config.LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "", cfg.Environment)
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)

	require.Equal(t, "8.8.8.8:53", cfg.Resolver.ServerAddr)
	require.Equal(t, 5*time.Second, cfg.Resolver.DialTimeout)
	require.Equal(t, 5, cfg.Engine.MaxRetries)
	require.Equal(t, time.Second, cfg.Engine.RetryDelay)
	require.Equal(t, 30*time.Second, cfg.Engine.ConnectionTimeout)
	require.Equal(t, 100, cfg.Pool.MaxConnections)
	require.Equal(t, 300*time.Second, cfg.Pool.DefaultTTL)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvironmentOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(`
resolver:
  server_addr: "1.1.1.1:53"
logging:
  level: "warn"
`), 0644))

	t.Setenv("BTPS_RESOLVER_ADDR", "9.9.9.9:53")
	t.Setenv("BTPS_LOG_LEVEL", "debug")

	cfg, err := config.Load(config.LoaderOptions{ConfigDir: dir})
	require.NoError(t, err)
	require.Equal(t, "9.9.9.9:53", cfg.Resolver.ServerAddr)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadSkipEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(`
resolver:
  server_addr: "1.1.1.1:53"
`), 0644))

	t.Setenv("BTPS_RESOLVER_ADDR", "9.9.9.9:53")

	cfg, err := config.Load(config.LoaderOptions{ConfigDir: dir, SkipEnvOverrides: true})
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1:53", cfg.Resolver.ServerAddr)
}

func TestToConnConfigWithoutTLSFilesLeavesTLSConfigNil(t *testing.T) {
	ec := config.EngineConfig{MaxRetries: 3, RetryDelay: time.Second, ConnectionTimeout: 10 * time.Second}
	cc, err := ec.ToConnConfig()
	require.NoError(t, err)
	require.Equal(t, 3, cc.MaxRetries)
	require.Nil(t, cc.TLSConfig)
}

func TestToConnConfigWithMissingCertFileErrors(t *testing.T) {
	ec := config.EngineConfig{TLSCertFile: "/nonexistent/cert.pem", TLSKeyFile: "/nonexistent/key.pem"}
	_, err := ec.ToConnConfig()
	require.Error(t, err)
}

func TestToResolverConfigAndToPoolConfig(t *testing.T) {
	rc := config.ResolverConfig{ServerAddr: "1.1.1.1:53", DialTimeout: 2 * time.Second, CacheTTL: time.Minute}
	resolverCfg := rc.ToResolverConfig()
	require.Equal(t, "1.1.1.1:53", resolverCfg.ServerAddr)
	require.Equal(t, 2*time.Second, resolverCfg.DialTimeout)

	pc := config.PoolConfig{MaxConnections: 42, DefaultTTL: time.Minute}
	poolCfg := pc.ToPoolConfig()
	require.Equal(t, 42, poolCfg.MaxConnections)
	require.Equal(t, time.Minute, poolCfg.DefaultTTL)
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("BTPS_TEST_ADDR", "2.2.2.2:53")
	cfg := &config.Config{Resolver: config.ResolverConfig{ServerAddr: "${BTPS_TEST_ADDR}"}}
	config.SubstituteEnvVarsInConfig(cfg)
	require.Equal(t, "2.2.2.2:53", cfg.Resolver.ServerAddr)
}

func TestLoadExactAppliesOverridesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resolver:
  server_addr: "1.1.1.1:53"
`), 0644))
	t.Setenv("BTPS_LOG_LEVEL", "debug")

	cfg, err := config.LoadExact(path)
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1:53", cfg.Resolver.ServerAddr)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 5, cfg.Engine.MaxRetries)
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv("BTPS_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	require.Equal(t, "development", config.GetEnvironment())
}
