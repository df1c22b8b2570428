package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics содержит метрики платёжного ядра: reconciliation,
// компенсации, payment notes и bulk-обновления сроков.
type PaymentMetrics struct {
	// Счётчики reconciliation по исходам
	reconcileStarted   prometheus.Counter
	reconcileCompleted prometheus.Counter
	reconcileRejected  prometheus.Counter
	reconcileFailed    prometheus.Counter
	compensations      prometheus.Counter

	// Счётчики авторитетных переходов статуса
	ordersCancelled prometheus.Counter
	ordersFailed    prometheus.Counter

	// Гистограммы времени выполнения
	reconcileDuration prometheus.Histogram
	stepDuration      *prometheus.HistogramVec

	// Счётчики заметок и событий
	paymentNotes  prometheus.Counter
	noteFallbacks prometheus.Counter
	outboxEvents  prometheus.Counter

	// Счётчики bulk-обновления expected_completion_date
	bulkUpdated prometheus.Counter
	bulkSkipped prometheus.Counter

	// Gauge для reconciliation в полёте
	activeReconciles prometheus.Gauge
}

// NewPaymentMetrics создаёт метрики и регистрирует их в default-регистре.
func NewPaymentMetrics() *PaymentMetrics {
	return newPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PaymentMetrics{
		reconcileStarted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_reconcile_started_total",
			Help: "Total number of reconciliation attempts started",
		})),
		reconcileCompleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_reconcile_completed_total",
			Help: "Total number of reconciliations that completed an order",
		})),
		reconcileRejected: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_reconcile_rejected_total",
			Help: "Total number of reconciliations rejected by a precondition",
		})),
		reconcileFailed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_reconcile_failed_total",
			Help: "Total number of reconciliations failed on storage or provider errors",
		})),
		compensations: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_compensations_total",
			Help: "Total number of debit compensations after a failed completion write",
		})),
		ordersCancelled: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_orders_cancelled_total",
			Help: "Total number of orders cancelled by the authoritative transition",
		})),
		ordersFailed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_orders_failed_total",
			Help: "Total number of orders failed by the authoritative transition",
		})),
		reconcileDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payments_reconcile_duration_seconds",
			Help:    "Duration of reconciliation operations in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payments_reconcile_step_duration_seconds",
			Help:    "Duration of individual reconciliation steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		paymentNotes: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_payment_notes_total",
			Help: "Total number of payment notes appended to order metadata",
		})),
		noteFallbacks: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_note_column_fallbacks_total",
			Help: "Total number of note writes that fell back to metadata-only storage",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_outbox_events_total",
			Help: "Total number of events enqueued to the transactional outbox",
		})),
		bulkUpdated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_bulk_completion_updated_total",
			Help: "Total number of orders updated by bulk completion date adjustments",
		})),
		bulkSkipped: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_bulk_completion_skipped_total",
			Help: "Total number of orders skipped by bulk completion date adjustments",
		})),
		activeReconciles: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payments_active_reconciles",
			Help: "Number of reconciliation operations currently in flight",
		})),
	}
}

// register регистрирует коллектор, переиспользуя уже зарегистрированный
// экземпляр при повторной регистрации с тем же именем.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type: %v", err))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordReconcileStarted увеличивает счётчик начатых reconciliation.
func (m *PaymentMetrics) RecordReconcileStarted() {
	m.reconcileStarted.Inc()
	m.RecordReconcileInFlightStarted()
}

// RecordReconcileCompleted увеличивает счётчик reconciliation, завершивших заказ.
func (m *PaymentMetrics) RecordReconcileCompleted() {
	m.reconcileCompleted.Inc()
}

// RecordReconcileRejected увеличивает счётчик reconciliation, отклонённых
// предусловием: недостаток кредитов, несовпадение суммы, нетерминальный конфликт.
func (m *PaymentMetrics) RecordReconcileRejected() {
	m.reconcileRejected.Inc()
}

// RecordReconcileFailed увеличивает счётчик reconciliation, упавших на инфраструктуре.
func (m *PaymentMetrics) RecordReconcileFailed() {
	m.reconcileFailed.Inc()
}

// RecordCompensation увеличивает счётчик компенсаций списания.
func (m *PaymentMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordOrderCancelled увеличивает счётчик авторитетных отмен заказа.
func (m *PaymentMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordOrderFailed увеличивает счётчик авторитетных переводов заказа в failed.
func (m *PaymentMetrics) RecordOrderFailed() {
	m.ordersFailed.Inc()
}

// RecordReconcileInFlightStarted увеличивает число reconciliation в полёте.
func (m *PaymentMetrics) RecordReconcileInFlightStarted() {
	m.activeReconciles.Inc()
}

// RecordReconcileInFlightFinished уменьшает число reconciliation в полёте.
func (m *PaymentMetrics) RecordReconcileInFlightFinished() {
	m.activeReconciles.Dec()
}

// RecordReconcileDuration записывает полное время reconciliation.
func (m *PaymentMetrics) RecordReconcileDuration(duration time.Duration) {
	m.reconcileDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время отдельного шага reconciliation.
func (m *PaymentMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordPaymentNote увеличивает счётчик добавленных payment notes.
func (m *PaymentMetrics) RecordPaymentNote() {
	m.paymentNotes.Inc()
}

// RecordNoteFallback увеличивает счётчик записей заметок через metadata-only fallback.
func (m *PaymentMetrics) RecordNoteFallback() {
	m.noteFallbacks.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий, положенных в outbox.
func (m *PaymentMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordBulkCompletion записывает итог bulk-обновления сроков завершения.
func (m *PaymentMetrics) RecordBulkCompletion(updated, skipped int) {
	m.bulkUpdated.Add(float64(updated))
	m.bulkSkipped.Add(float64(skipped))
}
