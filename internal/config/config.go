package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config описывает настройки одного сервиса платформы. Значения читаются
// из config-файла (если задан) и переменных окружения с префиксом PLATFORM,
// окружение имеет приоритет.
type Config struct {
	Service string `mapstructure:"service"`

	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Auth    AuthConfig    `mapstructure:"auth"`

	Downstream  DownstreamConfig  `mapstructure:"downstream"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Stock       StockConfig       `mapstructure:"stock"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

// HTTPConfig — адреса API и служебного (metrics/health) серверов.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	OpsAddr         string        `mapstructure:"ops_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig — настройки Postgres. Пустой DSN означает in-memory режим.
type StorageConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig — настройки Redis для idempotency-фильтра. Пустой Addr
// означает in-memory режим.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig — настройки публикации событий. Пустой список брокеров
// отключает Kafka.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

// AuthConfig — токен для внутренних service-to-service вызовов.
type AuthConfig struct {
	InternalToken string `mapstructure:"internal_token"`
}

// DownstreamConfig — базовые URL внутренних сервисов.
type DownstreamConfig struct {
	InventoryURL string `mapstructure:"inventory_url"`
	PromotionURL string `mapstructure:"promotion_url"`
}

// OutboxConfig — настройки диспетчера transactional outbox.
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// StockConfig — настройки резервирования остатков.
type StockConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

// IdempotencyConfig — TTL idempotency-записей.
type IdempotencyConfig struct {
	PendingTTL      time.Duration `mapstructure:"pending_ttl"`
	CompletedTTL    time.Duration `mapstructure:"completed_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Load читает конфигурацию сервиса. configPath может быть пустым: тогда
// используются только defaults и переменные окружения.
func Load(service, configPath string) (Config, error) {
	v := viper.New()

	setDefaults(v, service)

	v.SetEnvPrefix("PLATFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("service", service)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.ops_addr", ":9090")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")
	v.SetDefault("kafka.dlq_topic", "")

	v.SetDefault("auth.internal_token", "")

	v.SetDefault("downstream.inventory_url", "http://localhost:8081")
	v.SetDefault("downstream.promotion_url", "http://localhost:8082")

	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("stock.reservation_ttl", 30*time.Minute)
	v.SetDefault("stock.sweep_interval", time.Minute)
	v.SetDefault("stock.sweep_batch_size", 500)

	v.SetDefault("idempotency.pending_ttl", time.Minute)
	v.SetDefault("idempotency.completed_ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", 5*time.Minute)
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("config: service name is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr is required")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("config: outbox.batch_size must be positive")
	}
	if c.Stock.ReservationTTL <= 0 {
		return errors.New("config: stock.reservation_ttl must be positive")
	}
	if c.Idempotency.PendingTTL <= 0 || c.Idempotency.CompletedTTL <= 0 {
		return errors.New("config: idempotency TTLs must be positive")
	}
	if c.Idempotency.CompletedTTL <= c.Idempotency.PendingTTL {
		return errors.New("config: idempotency.completed_ttl must exceed pending_ttl")
	}
	return nil
}

// UsesPostgres сообщает, настроено ли постоянное хранилище.
func (c Config) UsesPostgres() bool {
	return strings.TrimSpace(c.Storage.PostgresDSN) != ""
}

// UsesRedis сообщает, настроен ли Redis для idempotency-записей.
func (c Config) UsesRedis() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

// UsesKafka сообщает, настроена ли публикация событий в Kafka.
func (c Config) UsesKafka() bool {
	return len(c.Kafka.Brokers) > 0
}
