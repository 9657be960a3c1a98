package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// NATSConfig holds the push channel connection configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// PushConfig holds push adapter configuration
type PushConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	WorkerPoolSize  int  `mapstructure:"worker_pool_size"`
	WorkerQueueSize int  `mapstructure:"worker_queue_size"`
}

// PollConfig holds poll adapter configuration. Each domain runs its own
// timer at its own cadence; the degraded intervals apply while the push
// channel is down.
type PollConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	TransactionsInterval time.Duration `mapstructure:"transactions_interval"`
	StakingInterval      time.Duration `mapstructure:"staking_interval"`
	AdminInterval        time.Duration `mapstructure:"admin_interval"`
	DegradedDivisor      int           `mapstructure:"degraded_divisor"` // intervals shrink by this factor while degraded
}

// ReconcilerConfig holds merge policy configuration
type ReconcilerConfig struct {
	QueueSize         int           `mapstructure:"queue_size"`
	CorrelationWindow time.Duration `mapstructure:"correlation_window"`
	RetryCeiling      int           `mapstructure:"retry_ceiling"`
	CycleInterval     time.Duration `mapstructure:"cycle_interval"` // cadence of the stuck-item sweep
	FailedGracePeriod time.Duration `mapstructure:"failed_grace_period"`
}

// HealthConfig holds connection health monitor configuration
type HealthConfig struct {
	FreshnessThreshold time.Duration `mapstructure:"freshness_threshold"`
	StaleThreshold     time.Duration `mapstructure:"stale_threshold"`
	CheckInterval      time.Duration `mapstructure:"check_interval"`
}

// ServerConfig holds the local observer HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SyncdConfig holds configuration for the syncd binary
type SyncdConfig struct {
	BaseConfig `mapstructure:",squash"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Push       PushConfig       `mapstructure:"push"`
	Poll       PollConfig       `mapstructure:"poll"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Health     HealthConfig     `mapstructure:"health"`
	Server     ServerConfig     `mapstructure:"server"`
	AuthToken  string           `mapstructure:"auth_token"` // session token attached to poll requests; issuance is external
}

// LoadSyncdConfig loads configuration for syncd
func LoadSyncdConfig(configFile string, envPath string) (*SyncdConfig, error) {
	v := configureViper("syncd", configFile, envPath)

	// Set defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connection_name", "ledgersync")
	v.SetDefault("push.enabled", true)
	v.SetDefault("push.worker_pool_size", 8)
	v.SetDefault("push.worker_queue_size", 1024)
	v.SetDefault("poll.request_timeout", "2s")
	v.SetDefault("poll.transactions_interval", "3s")
	v.SetDefault("poll.staking_interval", "5s")
	v.SetDefault("poll.admin_interval", "10s")
	v.SetDefault("poll.degraded_divisor", 2)
	v.SetDefault("reconciler.queue_size", 1024)
	v.SetDefault("reconciler.correlation_window", "10s")
	v.SetDefault("reconciler.retry_ceiling", 20)
	v.SetDefault("reconciler.cycle_interval", "5s")
	v.SetDefault("reconciler.failed_grace_period", "30s")
	v.SetDefault("health.freshness_threshold", "15s")
	v.SetDefault("health.stale_threshold", "60s")
	v.SetDefault("health.check_interval", "5s")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg SyncdConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if cfg.Poll.BaseURL == "" {
		return nil, errors.New("poll.base_url is required")
	}
	if cfg.Poll.DegradedDivisor < 1 {
		return nil, errors.New("poll.degraded_divisor must be at least 1")
	}
	if cfg.Reconciler.RetryCeiling < 1 {
		return nil, errors.New("reconciler.retry_ceiling must be at least 1")
	}

	return &cfg, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/syncd/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"auth_token",
		// NATS
		"nats.url",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		// Push
		"push.enabled",
		"push.worker_pool_size",
		"push.worker_queue_size",
		// Poll
		"poll.base_url",
		"poll.request_timeout",
		"poll.transactions_interval",
		"poll.staking_interval",
		"poll.admin_interval",
		"poll.degraded_divisor",
		// Reconciler
		"reconciler.queue_size",
		"reconciler.correlation_window",
		"reconciler.retry_ceiling",
		"reconciler.cycle_interval",
		"reconciler.failed_grace_period",
		// Health
		"health.freshness_threshold",
		"health.stale_threshold",
		"health.check_interval",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}
