package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(envCfgFile, "")
	t.Setenv("JIT_ENFORCER_URL", "http://enforcer.local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "pgx", cfg.Store.Driver)
	assert.Equal(t, "/requests/grant", cfg.Enforcer.Path)
	assert.Equal(t, 10*time.Second, cfg.Enforcer.Timeout)
	assert.Equal(t, ChannelLog, cfg.Notifications.Channel)
	assert.Empty(t, cfg.Notifications.Approvers)
	assert.Equal(t, "jit.access.audit", cfg.Audit.Topic)
	assert.Equal(t, 10000, cfg.Audit.MemoryLimit)
	assert.Equal(t, time.Minute, cfg.Reconciler.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Reconciler.StaleAfter)
	assert.Equal(t, 5, cfg.Reconciler.MaxAttempts)
	assert.Equal(t, 4, cfg.Reconciler.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Access.MaxTTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(envCfgFile, "")
	t.Setenv("JIT_ENFORCER_URL", "http://enforcer.local")
	t.Setenv("JIT_SERVER_ADDR", ":9090")
	t.Setenv("JIT_STORE_BACKEND", "postgres")
	t.Setenv("JIT_STORE_DATABASE_URL", "postgres://jit@localhost/jit")
	t.Setenv("JIT_NOTIFICATIONS_APPROVERS", "alice@co, bob@co,")
	t.Setenv("JIT_RECONCILER_INTERVAL", "0")
	t.Setenv("JIT_ENFORCER_TIMEOUT", "3s")
	t.Setenv("JIT_AUDIT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("JIT_SERVER_JWT_SECRET", "k3y")
	t.Setenv("JIT_SERVER_API_TOKEN_HASH", "$2a$10$abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://jit@localhost/jit", cfg.Store.DatabaseURL)
	assert.Equal(t, []string{"alice@co", "bob@co"}, cfg.Notifications.Approvers)
	assert.Equal(t, time.Duration(0), cfg.Reconciler.Interval)
	assert.Equal(t, 3*time.Second, cfg.Enforcer.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.KafkaBrokers)
	assert.Equal(t, "k3y", cfg.Server.JWTSecret)
	assert.Equal(t, "$2a$10$abc", cfg.Server.APITokenHash)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
enforcer:
  url: http://from-file.local
  timeout: 7s
notifications:
  channel: slack
  slack_token: xoxb-file
log:
  format: text
`), 0o600))
	t.Setenv(envCfgFile, path)
	t.Setenv("JIT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://from-file.local", cfg.Enforcer.URL)
	assert.Equal(t, 7*time.Second, cfg.Enforcer.Timeout)
	assert.Equal(t, ChannelSlack, cfg.Notifications.Channel)
	assert.Equal(t, "xoxb-file", cfg.Notifications.SlackToken)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv(envCfgFile, filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:        ServerConfig{Addr: ":8080"},
		Store:         StoreConfig{Backend: BackendMemory, Driver: "pgx"},
		Enforcer:      EnforcerConfig{URL: "http://enforcer.local", Timeout: time.Second},
		Notifications: NotificationsConfig{Channel: ChannelLog},
		Reconciler:    ReconcilerConfig{Interval: time.Minute, MaxAttempts: 5, Concurrency: 4},
		Log:           LogConfig{Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing enforcer", mutate: func(c *Config) { c.Enforcer.URL = "" }, wantErr: "enforcer.url is required"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "mongo" }, wantErr: "store.backend"},
		{name: "postgres without url", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, wantErr: "store.database_url"},
		{name: "postgres bad driver", mutate: func(c *Config) {
			c.Store.Backend = BackendPostgres
			c.Store.DatabaseURL = "postgres://x"
			c.Store.Driver = "mysql"
		}, wantErr: "store.driver"},
		{name: "redis without url", mutate: func(c *Config) { c.Store.Backend = BackendRedis }, wantErr: "redis.url"},
		{name: "slack without token", mutate: func(c *Config) { c.Notifications.Channel = ChannelSlack }, wantErr: "slack_token"},
		{name: "telegram without token", mutate: func(c *Config) { c.Notifications.Channel = ChannelTelegram }, wantErr: "telegram_token"},
		{name: "unknown channel", mutate: func(c *Config) { c.Notifications.Channel = "pigeon" }, wantErr: "notifications.channel"},
		{name: "reconciler attempts", mutate: func(c *Config) { c.Reconciler.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "reconciler disabled ignores attempts", mutate: func(c *Config) {
			c.Reconciler.Interval = 0
			c.Reconciler.MaxAttempts = 0
		}},
		{name: "negative max ttl", mutate: func(c *Config) { c.Access.MaxTTL = -time.Second }, wantErr: "access.max_ttl"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
