package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "STOCKKEEPER"

// Line validation modes for order assembly.
const (
	LineValidationLenient = "lenient"
	LineValidationStrict  = "strict"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Redis   RedisConfig   `mapstructure:"redis"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     LogConfig     `mapstructure:"log"`
	Orders  OrdersConfig  `mapstructure:"orders"`
}

type ServerConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type GatewayConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int64         `mapstructure:"lease_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MySQLConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type MongoDBConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// OrdersConfig tunes order assembly and the transaction boundary around it.
type OrdersConfig struct {
	LineValidation string        `mapstructure:"line_validation"`
	TxIsolation    string        `mapstructure:"tx_isolation"`
	TxTimeout      time.Duration `mapstructure:"tx_timeout"`
	TxAttempts     int           `mapstructure:"tx_attempts"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	// AsyncSideEffects moves audit and event writes off the request path.
	AsyncSideEffects  bool          `mapstructure:"async_side_effects"`
	SideEffectTimeout time.Duration `mapstructure:"side_effect_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "stockkeeper")
	v.SetDefault("server.version", "0.1.0")

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.read_timeout", 15*time.Second)
	v.SetDefault("gateway.write_timeout", 15*time.Second)
	v.SetDefault("gateway.shutdown_timeout", 10*time.Second)

	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")
	v.SetDefault("etcd.lease_ttl", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.conn_max_lifetime", time.Hour)
	v.SetDefault("mysql.auto_migrate", true)

	v.SetDefault("mongodb.collection", "audit_logs")

	v.SetDefault("kafka.topic", "stockkeeper.orders")
	v.SetDefault("kafka.batch_timeout", 10*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})

	v.SetDefault("orders.line_validation", LineValidationLenient)
	v.SetDefault("orders.tx_isolation", "read_committed")
	v.SetDefault("orders.tx_timeout", 10*time.Second)
	v.SetDefault("orders.tx_attempts", 3)
	v.SetDefault("orders.cache_ttl", 10*time.Minute)
	v.SetDefault("orders.async_side_effects", true)
	v.SetDefault("orders.side_effect_timeout", 5*time.Second)
}

// Load reads the YAML file at configPath and overlays STOCKKEEPER_* environment variables.
// An empty configPath loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
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

func (c *Config) Validate() error {
	switch c.Orders.LineValidation {
	case LineValidationLenient, LineValidationStrict:
	default:
		return fmt.Errorf("invalid orders.line_validation %q", c.Orders.LineValidation)
	}

	switch c.Orders.TxIsolation {
	case "", "default", "read_committed", "repeatable_read", "serializable":
	default:
		return fmt.Errorf("invalid orders.tx_isolation %q", c.Orders.TxIsolation)
	}

	if c.Orders.TxAttempts < 1 {
		return fmt.Errorf("orders.tx_attempts must be at least 1, got %d", c.Orders.TxAttempts)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	return nil
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
