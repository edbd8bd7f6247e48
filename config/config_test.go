package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/config"
	"github.com/warp/balance-ledger/logging"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ledger.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Cascade.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Cascade.RetryBackoff)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
db:
  path: /tmp/ledger.db
cascade:
  workers: 2
  retry_backoff: 250ms
`), 0o600))

	// GIVEN: the environment overrides the file
	t.Setenv("LEDGER_CASCADE_WORKERS", "8")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Cascade.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Cascade.RetryBackoff)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Server:    config.ServerConfig{Port: 8080},
			Database:  config.DatabaseConfig{Path: ":memory:"},
			Cascade:   config.CascadeConfig{Workers: 1, MaxAttempts: 1},
			Lock:      config.LockConfig{Backend: "memory"},
			Scheduler: config.SchedulerConfig{Enabled: true, Interval: time.Hour},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"valid", func(*config.Config) {}, true},
		{"bad port", func(c *config.Config) { c.Server.Port = 70000 }, false},
		{"no db path", func(c *config.Config) { c.Database.Path = "" }, false},
		{"no workers", func(c *config.Config) { c.Cascade.Workers = 0 }, false},
		{"unknown lock", func(c *config.Config) { c.Lock.Backend = "etcd" }, false},
		{"redis without addr", func(c *config.Config) { c.Lock.Backend = "redis" }, false},
		{"redis with addr", func(c *config.Config) { c.Lock.Backend = "redis"; c.Redis.Addr = "localhost:6379" }, true},
		{"scheduler without interval", func(c *config.Config) { c.Scheduler.Interval = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoggingNew(t *testing.T) {
	logger, err := logging.New(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = logging.New(config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = logging.New(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
