// Package app собирает платёжное ядро: хранилище, реестр провайдеров,
// Kafka, фоновые воркеры и оба HTTP-сервера (публичный API и служебный).
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/health"
	"github.com/partitura-music/payments/internal/messaging/kafka"
	"github.com/partitura-music/payments/internal/metrics"
	"github.com/partitura-music/payments/internal/service/httpapi"
	"github.com/partitura-music/payments/internal/service/idempotency"
	"github.com/partitura-music/payments/internal/service/notes"
	"github.com/partitura-music/payments/internal/service/outbox"
	"github.com/partitura-music/payments/internal/service/reconcile"
	"github.com/partitura-music/payments/internal/service/scheduling"
	"github.com/partitura-music/payments/internal/version"
)

const workerStopTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithField("component", "app")
	info := version.Get()
	logger.WithFields(log.Fields{
		"version": info.Version,
		"commit":  info.Commit,
	}).Info("запускаем payments service")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	noteAppender := notes.NewAccumulator(deps.orders, log.WithField("component", "notes"))
	reconciler := reconcile.NewReconciler(
		deps.orders,
		deps.profiles,
		deps.transactions,
		deps.outboxRepo,
		noteAppender,
		log.WithField("component", "reconcile"),
	)
	adjuster := scheduling.NewAdjuster(deps.orders, deps.outboxRepo, log.WithField("component", "scheduling"))
	providers := buildProviderRegistry(cfg, logger)

	// Kafka опционален: без брокеров события копятся в outbox, сервис
	// продолжает обслуживать платежи.
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}

	var consumer *kafka.Consumer
	var stopOutboxWorker func()
	if producer != nil {
		worker := outbox.NewWorker(
			deps.outboxRepo,
			kafka.NewOutboxPublisher(producer, kafka.TopicPaymentEvents),
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicPaymentEventsDLQ)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		stopOutboxWorker = startWorker(worker.Run, "outbox-worker", logger)

		consumer, err = startProviderConsumer(ctx, cfg, producer, providers, reconciler, logger)
		if err != nil {
			logger.WithError(err).Warn("failed to start provider events consumer, continuing without it")
		}
	}

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotency,
		idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	stopCleanupWorker := startWorker(cleanupWorker.Run, "idempotency-cleanup", logger)

	api := httpapi.NewService(httpapi.Deps{
		Orders:         deps.orders,
		Profiles:       deps.profiles,
		Transactions:   deps.transactions,
		Reconciler:     reconciler,
		Notes:          noteAppender,
		Scheduler:      adjuster,
		Providers:      providers,
		Outbox:         deps.outboxRepo,
		Idempotency:    deps.idempotency,
		Logger:         log.WithField("component", "httpapi"),
		HTTPMetrics:    metrics.NewHTTPMetrics(),
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	healthHandler := health.NewHandler(info.Version)
	if deps.storageChecker != nil {
		healthHandler.Register("storage", deps.storageChecker)
	}
	if len(splitBrokers(cfg.KafkaBrokers)) > 0 {
		// Сбой Kafka деградирует сервис, но не снимает его с ротации:
		// события ждут в outbox.
		healthHandler.RegisterOptional("kafka", health.NewChecker("kafka", func() error {
			if producer == nil {
				return errors.New("kafka producer is not connected")
			}
			return nil
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	stopBackground := func() {
		stopConsumer(consumer, logger)
		if stopOutboxWorker != nil {
			stopOutboxWorker()
		}
		stopCleanupWorker()
		closeKafkaProducer(producer, logger)
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopBackground()
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return err
	}

	srv := &http.Server{Handler: api.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(srv, cfg.ShutdownTimeout, logger)
		stopBackground()
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return ctx.Err()
	case err := <-errCh:
		stopBackground()
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startWorker запускает фоновый цикл и возвращает функцию остановки,
// которая дожидается его завершения. Воркеры живут на собственном
// контексте, чтобы успеть дослать накопленное во время shutdown.
func startWorker(run func(context.Context), name string, logger *log.Entry) (stop func()) {
	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx)
	}()
	return func() {
		stopWorker(cancel, done, name, logger)
	}
}

// stopWorker отменяет контекст воркера и ждёт выхода из цикла не дольше
// workerStopTimeout.
func stopWorker(cancel context.CancelFunc, done <-chan struct{}, name string, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.WithField("worker", name).Info("worker stopped")
	case <-time.After(workerStopTimeout):
		logger.WithField("worker", name).Warn("worker did not stop in time")
	}
}

// startMetricsServer запускает служебный HTTP-сервер: метрики Prometheus
// и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.Readiness)
	mux.HandleFunc("/livez", health.Liveness)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, 0, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер. Нулевой timeout
// заменяется на пять секунд.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
