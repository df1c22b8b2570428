package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/health"
	"github.com/partitura-music/payments/internal/storage/memory"
	"github.com/partitura-music/payments/internal/storage/postgres"
)

const storagePingTimeout = 2 * time.Second

// runtimeDependencies — репозитории и сопутствующие ручки хранилища,
// выбранные по конфигурации.
type runtimeDependencies struct {
	orders       domain.OrderRepository
	profiles     domain.ProfileRepository
	transactions domain.TransactionLogRepository
	outboxRepo   domain.OutboxRepository
	idempotency  domain.IdempotencyRepository

	// storageChecker регистрируется критичной проверкой в /healthz;
	// nil для memory-хранилища, которому нечего проверять.
	storageChecker health.Checker
	// closeFn освобождает ресурсы хранилища при остановке; может быть nil.
	closeFn func() error
}

// initRuntimeDependencies собирает слой хранения по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if logger == nil {
		logger = log.New().WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			orders:       memory.NewOrderRepository(),
			profiles:     memory.NewProfileRepository(),
			transactions: memory.NewTransactionLogRepository(),
			outboxRepo:   memory.NewOutboxRepository(),
			idempotency:  memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return runtimeDependencies{
			orders:         postgres.NewOrderRepository(store),
			profiles:       postgres.NewProfileRepository(store),
			transactions:   postgres.NewTransactionLogRepository(store),
			outboxRepo:     postgres.NewOutboxRepository(store),
			idempotency:    postgres.NewIdempotencyRepository(store),
			storageChecker: newStorageChecker(store),
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func newStorageChecker(store *postgres.Store) health.Checker {
	return health.NewChecker("postgres", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
		defer cancel()
		return store.Ping(ctx)
	})
}

// closeStorage закрывает хранилище, если есть что закрывать.
func closeStorage(deps runtimeDependencies, logger *log.Entry) {
	if deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.Info("storage closed")
}
