package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Reports    ReportsConfig    `mapstructure:"reports"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Modbus     ModbusConfig     `mapstructure:"modbus"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Seed       SeedConfig       `mapstructure:"seed"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	Issuer                 string        `mapstructure:"issuer"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
	BootstrapAdmin         string        `mapstructure:"bootstrap_admin"`
	BootstrapPasswordEnv   string        `mapstructure:"bootstrap_password_env"`
}

type MonitoringConfig struct {
	DedupWindow    time.Duration `mapstructure:"dedup_window"`
	AlertQueueSize int           `mapstructure:"alert_queue_size"`
	OfflineAfter   time.Duration `mapstructure:"offline_after"`
	SnapshotTTL    time.Duration `mapstructure:"snapshot_ttl"`
}

type ReportsConfig struct {
	GeneratedBy string        `mapstructure:"generated_by"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type WorkflowConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	BulkConcurrency int           `mapstructure:"bulk_concurrency"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	PasswordEnv string `mapstructure:"password_env"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type ModbusConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type SeedConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MachinesPerType int  `mapstructure:"machines_per_type"`
}

// Load reads the YAML file at path (optional, "" skips it), an optional .env
// file and SIG_* environment overrides.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs only
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "sensorintegration")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "sig")

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "sensorintegration")
	v.SetDefault("auth.access_token_ttl", "24h")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")
	v.SetDefault("auth.bootstrap_admin", "admin")
	v.SetDefault("auth.bootstrap_password_env", "ADMIN_PASSWORD")

	v.SetDefault("monitoring.dedup_window", "5m")
	v.SetDefault("monitoring.alert_queue_size", 1024)
	v.SetDefault("monitoring.offline_after", "10m")
	v.SetDefault("monitoring.snapshot_ttl", "24h")

	v.SetDefault("reports.generated_by", "auto")
	v.SetDefault("reports.cache_ttl", "10m")

	v.SetDefault("workflow.max_attempts", 3)
	v.SetDefault("workflow.initial_interval", "1s")
	v.SetDefault("workflow.max_interval", "30s")
	v.SetDefault("workflow.bulk_concurrency", 4)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "sensorintegration")
	v.SetDefault("mqtt.password_env", "MQTT_PASSWORD")
	v.SetDefault("mqtt.topic_prefix", "sensors")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("modbus.enabled", false)
	v.SetDefault("modbus.default_timeout", "1s")
	v.SetDefault("modbus.default_poll_interval", "5s")

	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.machines_per_type", 5)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("invalid server ports: http=%d grpc=%d", c.Server.HTTPPort, c.Server.GRPCPort)
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow.max_attempts must be >= 1")
	}
	if c.Workflow.BulkConcurrency < 1 {
		return fmt.Errorf("workflow.bulk_concurrency must be >= 1")
	}
	if c.Monitoring.AlertQueueSize < 1 {
		return fmt.Errorf("monitoring.alert_queue_size must be >= 1")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}

// BootstrapPassword returns the configured admin password, or "" when unset.
func (a *AuthConfig) BootstrapPassword() string {
	if a.BootstrapPasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.BootstrapPasswordEnv)
}

func (m *MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}
