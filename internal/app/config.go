package app

import (
	"errors"
	"fmt"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска платёжного ядра.
type Config struct {
	// HTTPAddr — адрес публичного JSON API.
	HTTPAddr string
	// MetricsAddr — адрес служебного сервера: /metrics, /healthz, /readyz, /livez.
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — брокеры через запятую. Пустая строка отключает и
	// публикацию доменных событий, и consumer провайдерских сигналов.
	KafkaBrokers       string
	KafkaConsumerGroup string

	// PayPal подключается, только когда заданы ClientID и ClientSecret;
	// иначе единственным провайдером остаётся песочница.
	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalBrandName    string
	PayPalReturnURL    string
	PayPalCancelURL    string

	// IdempotencyTTL — срок хранения ответов под Idempotency-Key.
	IdempotencyTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки локального запуска: memory-хранилище,
// без Kafka, песочница как провайдер по умолчанию.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaConsumerGroup:          "payments-core",
		PayPalBaseURL:               "https://api-m.sandbox.paypal.com",
		PayPalBrandName:             "Partitura Sheet Music",
		IdempotencyTTL:              24 * time.Hour,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ShutdownTimeout:             5 * time.Second,
	}
}

// Validate проверяет конфигурацию перед запуском.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http listen address is required")
	}
	if c.MetricsAddr == "" {
		return errors.New("metrics listen address is required")
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	if c.IdempotencyTTL <= 0 {
		return errors.New("idempotency ttl must be positive")
	}
	if c.OutboxPollInterval <= 0 {
		return errors.New("outbox poll interval must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return errors.New("outbox batch size must be positive")
	}
	if c.OutboxMaxAttempts <= 0 {
		return errors.New("outbox max attempts must be positive")
	}
	if c.OutboxRetryDelay < 0 {
		return errors.New("outbox retry delay must not be negative")
	}
	if c.IdempotencyCleanupInterval <= 0 {
		return errors.New("idempotency cleanup interval must be positive")
	}
	if c.IdempotencyCleanupBatchSize <= 0 {
		return errors.New("idempotency cleanup batch size must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}
