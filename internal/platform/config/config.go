// Package config loads service configuration from JIT_* environment
// variables and an optional config file named by JIT_CONFIG_FILE.
//
// Keys map to variables by upper-casing and replacing dots with underscores:
// store.backend is JIT_STORE_BACKEND, enforcer.url is JIT_ENFORCER_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "JIT"
	envCfgFile = "JIT_CONFIG_FILE"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Notification channels.
const (
	ChannelNone     = "none"
	ChannelLog      = "log"
	ChannelSlack    = "slack"
	ChannelTelegram = "telegram"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Enforcer      EnforcerConfig      `mapstructure:"enforcer"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	Access        AccessConfig        `mapstructure:"access"`
	Log           LogConfig           `mapstructure:"log"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	APIToken          string        `mapstructure:"api_token"`
	APITokenHash      string        `mapstructure:"api_token_hash"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`

	// JWTSecret switches authentication from X-Principal headers to HS256
	// bearer tokens whose subject is the principal.
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	DatabaseURL string `mapstructure:"database_url"`
	// Driver is the database/sql driver name: "pgx" or "postgres" (lib/pq).
	Driver       string `mapstructure:"driver"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type EnforcerConfig struct {
	URL     string        `mapstructure:"url"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
	Token   string        `mapstructure:"token"`
}

type NotificationsConfig struct {
	Channel           string        `mapstructure:"channel"`
	Approvers         []string      `mapstructure:"approvers"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SlackToken        string        `mapstructure:"slack_token"`
	SlackAPIURL       string        `mapstructure:"slack_api_url"`
	TelegramToken     string        `mapstructure:"telegram_token"`
	TelegramEndpoint  string        `mapstructure:"telegram_endpoint"`
	TelegramDirectory string        `mapstructure:"telegram_directory"`
}

// AuditConfig selects the audit sink. Without brokers events stay in memory.
type AuditConfig struct {
	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	Topic             string   `mapstructure:"topic"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
	QueueSize         int      `mapstructure:"queue_size"`
	// MemoryLimit caps the in-memory sink used when no brokers are set.
	MemoryLimit       int      `mapstructure:"memory_limit"`
}

type ReconcilerConfig struct {
	// Interval of zero disables the reconciler.
	Interval    time.Duration `mapstructure:"interval"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Concurrency int           `mapstructure:"concurrency"`
}

type AccessConfig struct {
	// MaxTTL caps requested and granted TTLs. Zero disables the cap.
	MaxTTL time.Duration `mapstructure:"max_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.api_token_hash", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.jwt_issuer", "")
	v.SetDefault("server.jwt_audience", "")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.driver", "pgx")
	v.SetDefault("store.max_open_conns", 10)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("enforcer.url", "")
	v.SetDefault("enforcer.path", "/requests/grant")
	v.SetDefault("enforcer.timeout", 10*time.Second)
	v.SetDefault("enforcer.token", "")

	v.SetDefault("notifications.channel", ChannelLog)
	v.SetDefault("notifications.approvers", []string{})
	v.SetDefault("notifications.timeout", 10*time.Second)
	v.SetDefault("notifications.slack_token", "")
	v.SetDefault("notifications.slack_api_url", "")
	v.SetDefault("notifications.telegram_token", "")
	v.SetDefault("notifications.telegram_endpoint", "")
	v.SetDefault("notifications.telegram_directory", "")

	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.topic", "jit.access.audit")
	v.SetDefault("audit.partitions", 1)
	v.SetDefault("audit.replication_factor", 1)
	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.memory_limit", 10000)

	v.SetDefault("reconciler.interval", time.Minute)
	v.SetDefault("reconciler.stale_after", 2*time.Minute)
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.concurrency", 4)

	v.SetDefault("access.max_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads defaults, the optional config file and the environment, in
// increasing precedence, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(envCfgFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			trimSliceHook,
		)
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// trimSliceHook drops blanks left by "a, b," style lists.
func trimSliceHook(_ reflect.Type, _ reflect.Type, data any) (any, error) {
	items, ok := data.([]string)
	if !ok {
		return data, nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// Validate checks cross-field constraints. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres backend"))
		}
		if c.Store.Driver != "pgx" && c.Store.Driver != "postgres" {
			errs = append(errs, fmt.Errorf("store.driver must be pgx or postgres, got %q", c.Store.Driver))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be memory, postgres or redis, got %q", c.Store.Backend))
	}

	if strings.TrimSpace(c.Enforcer.URL) == "" {
		errs = append(errs, errors.New("enforcer.url is required"))
	}
	if c.Enforcer.Timeout <= 0 {
		errs = append(errs, errors.New("enforcer.timeout must be positive"))
	}

	switch c.Notifications.Channel {
	case ChannelNone, ChannelLog:
	case ChannelSlack:
		if c.Notifications.SlackToken == "" {
			errs = append(errs, errors.New("notifications.slack_token is required for the slack channel"))
		}
	case ChannelTelegram:
		if c.Notifications.TelegramToken == "" {
			errs = append(errs, errors.New("notifications.telegram_token is required for the telegram channel"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifications.channel must be none, log, slack or telegram, got %q", c.Notifications.Channel))
	}

	if c.Reconciler.Interval < 0 {
		errs = append(errs, errors.New("reconciler.interval must not be negative"))
	}
	if c.Reconciler.Interval > 0 {
		if c.Reconciler.MaxAttempts < 1 {
			errs = append(errs, errors.New("reconciler.max_attempts must be at least 1"))
		}
		if c.Reconciler.Concurrency < 1 {
			errs = append(errs, errors.New("reconciler.concurrency must be at least 1"))
		}
	}

	if c.Access.MaxTTL < 0 {
		errs = append(errs, errors.New("access.max_ttl must not be negative"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
