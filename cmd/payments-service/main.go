package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/app"
)

// Переменные окружения сервиса.
const (
	envHTTPAddr                    = "PAYMENTS_HTTP_ADDR"
	envMetricsAddr                 = "PAYMENTS_METRICS_ADDR"
	envStorageDriver               = "PAYMENTS_STORAGE_DRIVER"
	envPostgresDSN                 = "PAYMENTS_POSTGRES_DSN"
	envPostgresAutoMigrate         = "PAYMENTS_POSTGRES_AUTOMIGRATE"
	envKafkaBrokers                = "PAYMENTS_KAFKA_BROKERS"
	envKafkaConsumerGroup          = "PAYMENTS_KAFKA_CONSUMER_GROUP"
	envPayPalBaseURL               = "PAYMENTS_PAYPAL_BASE_URL"
	envPayPalClientID              = "PAYMENTS_PAYPAL_CLIENT_ID"
	envPayPalClientSecret          = "PAYMENTS_PAYPAL_CLIENT_SECRET"
	envPayPalBrandName             = "PAYMENTS_PAYPAL_BRAND_NAME"
	envPayPalReturnURL             = "PAYMENTS_PAYPAL_RETURN_URL"
	envPayPalCancelURL             = "PAYMENTS_PAYPAL_CANCEL_URL"
	envIdempotencyTTL              = "PAYMENTS_IDEMPOTENCY_TTL"
	envOutboxPollInterval          = "PAYMENTS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "PAYMENTS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "PAYMENTS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "PAYMENTS_OUTBOX_RETRY_DELAY"
	envIdempotencyCleanupInterval  = "PAYMENTS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "PAYMENTS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envShutdownTimeout             = "PAYMENTS_SHUTDOWN_TIMEOUT"
)

// envLookup абстрагирует os.LookupEnv для тестов.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv собирает конфигурацию из окружения. Невалидное значение
// не прерывает запуск: поле остаётся на значении по умолчанию, а
// предупреждение возвращается вызывающему.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q is invalid (%v), keeping default", key, value, err))
	}

	if v, ok := lookup(envHTTPAddr); ok && strings.TrimSpace(v) != "" {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envMetricsAddr); ok && strings.TrimSpace(v) != "" {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup(envPostgresDSN); ok && strings.TrimSpace(v) != "" {
		cfg.PostgresDSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	// Пустое значение брокеров — осознанное отключение Kafka.
	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = strings.TrimSpace(v)
	}
	if v, ok := lookup(envKafkaConsumerGroup); ok && strings.TrimSpace(v) != "" {
		cfg.KafkaConsumerGroup = strings.TrimSpace(v)
	}

	if v, ok := lookup(envPayPalBaseURL); ok && strings.TrimSpace(v) != "" {
		cfg.PayPalBaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPayPalClientID); ok {
		cfg.PayPalClientID = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPayPalClientSecret); ok {
		cfg.PayPalClientSecret = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPayPalBrandName); ok && strings.TrimSpace(v) != "" {
		cfg.PayPalBrandName = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPayPalReturnURL); ok {
		cfg.PayPalReturnURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPayPalCancelURL); ok {
		cfg.PayPalCancelURL = strings.TrimSpace(v)
	}

	if v, ok := lookup(envIdempotencyTTL); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be positive"); err != nil {
			warn(envIdempotencyTTL, v, err)
		} else {
			cfg.IdempotencyTTL = parsed
		}
	}
	if v, ok := lookup(envOutboxPollInterval); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be positive"); err != nil {
			warn(envOutboxPollInterval, v, err)
		} else {
			cfg.OutboxPollInterval = parsed
		}
	}
	if v, ok := lookup(envOutboxBatchSize); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envOutboxBatchSize, v, err)
		} else {
			cfg.OutboxBatchSize = parsed
		}
	}
	if v, ok := lookup(envOutboxMaxAttempts); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envOutboxMaxAttempts, v, err)
		} else {
			cfg.OutboxMaxAttempts = parsed
		}
	}
	if v, ok := lookup(envOutboxRetryDelay); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d >= 0 }, "must be >= 0"); err != nil {
			warn(envOutboxRetryDelay, v, err)
		} else {
			cfg.OutboxRetryDelay = parsed
		}
	}
	if v, ok := lookup(envIdempotencyCleanupInterval); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be positive"); err != nil {
			warn(envIdempotencyCleanupInterval, v, err)
		} else {
			cfg.IdempotencyCleanupInterval = parsed
		}
	}
	if v, ok := lookup(envIdempotencyCleanupBatchSize); ok {
		if parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0"); err != nil {
			warn(envIdempotencyCleanupBatchSize, v, err)
		} else {
			cfg.IdempotencyCleanupBatchSize = parsed
		}
	}
	if v, ok := lookup(envShutdownTimeout); ok {
		if parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be positive"); err != nil {
			warn(envShutdownTimeout, v, err)
		} else {
			cfg.ShutdownTimeout = parsed
		}
	}

	return cfg, warnings
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, errors.New("not a boolean value")
	}
}

func parseInt(value string, valid func(int) bool, requirement string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.New("not an integer")
	}
	if !valid(parsed) {
		return 0, errors.New(requirement)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, requirement string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.New("not a duration")
	}
	if !valid(parsed) {
		return 0, errors.New(requirement)
	}
	return parsed, nil
}

func main() {
	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем payments service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("payments service остановлен")
}
