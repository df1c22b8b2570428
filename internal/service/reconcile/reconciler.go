// Package reconcile реализует сведение платёжных исходов с заказами:
// кредитный путь с компенсацией, применение проверенных исходов провайдера
// и авторитетные переходы статуса.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/messaging/kafka"
	"github.com/partitura-music/payments/internal/metrics"
)

// Reconciler описывает интерфейс сведения платежей.
//
// Разделение точек входа намеренное: ReconcileProvider и
// RecordProviderCancellation — advisory-путь, который оставляет статус заказа
// нетронутым; CancelOrder и FailOrder — авторитетные переходы из pending.
type Reconciler interface {
	ReconcileCredits(customerID, orderID string, amountMinor int64) (CreditsResult, error)
	ReconcileProvider(orderID string, outcome domain.CanonicalOutcome) (domain.Order, error)
	RecordProviderCancellation(orderID, reason string) error
	CancelOrder(orderID, reason string) (domain.Order, error)
	FailOrder(orderID, reason string) (domain.Order, error)
}

// CreditsResult — итог кредитной reconciliation.
type CreditsResult struct {
	Order            domain.Order
	RemainingCredits int64
	// Applied — true, если списание и завершение произошли в этом вызове;
	// false для идемпотентного no-op по уже завершённому заказу.
	Applied bool
}

// reconciler реализует последовательность шагов кредитного пути:
// Debit → Complete → best-effort журнал и события, с компенсацией списания,
// если завершение не записалось.
type reconciler struct {
	orders   domain.OrderRepository
	profiles domain.ProfileRepository
	txlog    domain.TransactionLogRepository
	outbox   domain.OutboxRepository
	notes    domain.NoteAppender
	logger   *log.Entry
	metrics  *metrics.PaymentMetrics
}

// NewReconciler создаёт рабочий экземпляр.
func NewReconciler(
	orders domain.OrderRepository,
	profiles domain.ProfileRepository,
	txlog domain.TransactionLogRepository,
	outbox domain.OutboxRepository,
	notes domain.NoteAppender,
	logger *log.Entry,
) Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "reconcile")
	}
	return &reconciler{
		orders:   orders,
		profiles: profiles,
		txlog:    txlog,
		outbox:   outbox,
		notes:    notes,
		logger:   logger,
		metrics:  metrics.NewPaymentMetrics(),
	}
}

// NewReconcilerWithoutMetrics создаёт reconciler без метрик (для тестов).
func NewReconcilerWithoutMetrics(
	orders domain.OrderRepository,
	profiles domain.ProfileRepository,
	txlog domain.TransactionLogRepository,
	outbox domain.OutboxRepository,
	notes domain.NoteAppender,
	logger *log.Entry,
) Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "reconcile")
	}
	return &reconciler{
		orders:   orders,
		profiles: profiles,
		txlog:    txlog,
		outbox:   outbox,
		notes:    notes,
		logger:   logger,
	}
}

// ReconcileCredits проводит оплату заказа кредитами покупателя.
//
// Предусловия по порядку: заказ существует; уже завершённый заказ — успешный
// no-op; баланса хватает, иначе InsufficientCreditsError без каких-либо
// изменений состояния. Побочные эффекты строго упорядочены: списание, затем
// условное завершение заказа, затем best-effort журнал и события. Если
// завершение не записалось после успешного списания, списание компенсируется.
func (r *reconciler) ReconcileCredits(customerID, orderID string, amountMinor int64) (CreditsResult, error) {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordReconcileStarted()
	}
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordReconcileDuration(time.Since(start))
			r.metrics.RecordReconcileInFlightFinished()
		}
	}()

	if err := r.validateCreditsArgs(customerID, orderID, amountMinor); err != nil {
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return CreditsResult{}, err
	}

	order, err := r.orders.Get(orderID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return CreditsResult{}, fmt.Errorf("reconcile credits: %w", err)
	}

	if order.CustomerID != "" && order.CustomerID != customerID {
		r.logger.WithFields(log.Fields{
			"order_id":    orderID,
			"customer_id": customerID,
			"owner_id":    order.CustomerID,
		}).Warn("credits reconciliation for foreign order")
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return CreditsResult{}, fmt.Errorf("reconcile credits: %w", domain.ErrOrderNotFound)
	}

	if order.Status == domain.OrderStatusCompleted {
		r.logger.WithField("order_id", orderID).Debug("order already completed, reconciliation is a no-op")
		return CreditsResult{
			Order:            order,
			RemainingCredits: r.currentBalance(customerID),
		}, nil
	}

	debitStart := time.Now()
	remaining, err := r.profiles.Debit(customerID, amountMinor)
	if r.metrics != nil {
		r.metrics.RecordStepDuration(string(domain.ReconcileStepDebit), time.Since(debitStart))
	}
	if err != nil {
		if details, ok := domain.IsInsufficientCredits(err); ok {
			r.logger.WithFields(log.Fields{
				"order_id":    orderID,
				"customer_id": customerID,
				"current":     details.Current,
				"required":    details.Required,
			}).Info("insufficient credits, nothing changed")
			if r.metrics != nil {
				r.metrics.RecordReconcileRejected()
			}
			return CreditsResult{}, err
		}
		if r.metrics != nil {
			if domain.IsNotFound(err) {
				r.metrics.RecordReconcileRejected()
			} else {
				r.metrics.RecordReconcileFailed()
			}
		}
		return CreditsResult{}, fmt.Errorf("debit credits: %w", err)
	}

	completion := domain.PaymentCompletion{
		Method:        domain.PaymentMethodCredits,
		TransactionID: uuid.NewString(),
		CompletedAt:   time.Now().UTC(),
	}

	completeStart := time.Now()
	updated, err := r.orders.CompletePayment(orderID, completion)
	if r.metrics != nil {
		r.metrics.RecordStepDuration(string(domain.ReconcileStepComplete), time.Since(completeStart))
	}
	if err != nil {
		restored := r.compensateDebit(customerID, orderID, amountMinor)

		if errors.Is(err, domain.ErrOrderAlreadyCompleted) {
			// Проигранная гонка: параллельная reconciliation успела первой.
			// Списание возвращено, исход — тот же идемпотентный no-op.
			r.logger.WithField("order_id", orderID).Info("lost completion race, debit compensated")
			return CreditsResult{
				Order:            updated,
				RemainingCredits: restored,
			}, nil
		}

		if r.metrics != nil {
			if domain.IsTerminalConflict(err) {
				r.metrics.RecordReconcileRejected()
			} else {
				r.metrics.RecordReconcileFailed()
			}
		}
		return CreditsResult{}, fmt.Errorf("complete payment: %w", err)
	}

	r.recordTransaction(domain.TransactionRecord{
		OrderID:     orderID,
		Kind:        domain.TransactionKindCompletion,
		AmountMinor: amountMinor,
		Method:      domain.PaymentMethodCredits,
		ProviderRef: completion.TransactionID,
	})
	r.emitEvent(updated, kafka.EventTypeOrderCompleted, map[string]interface{}{
		"customer_id":  customerID,
		"method":       domain.PaymentMethodCredits,
		"amount_minor": amountMinor,
	})

	if r.metrics != nil {
		r.metrics.RecordReconcileCompleted()
	}
	r.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"customer_id":  customerID,
		"amount_minor": amountMinor,
		"remaining":    remaining,
	}).Info("order reconciled with credits")

	return CreditsResult{
		Order:            updated,
		RemainingCredits: remaining,
		Applied:          true,
	}, nil
}

// ReconcileProvider применяет проверенный исход провайдера. Paid завершает
// заказ той же условной записью, что и кредитный путь (без списания);
// Cancelled и Failed — advisory, только заметка, статус не меняется.
func (r *reconciler) ReconcileProvider(orderID string, outcome domain.CanonicalOutcome) (domain.Order, error) {
	start := time.Now()
	if r.metrics != nil {
		r.metrics.RecordReconcileStarted()
	}
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordReconcileDuration(time.Since(start))
			r.metrics.RecordReconcileInFlightFinished()
		}
	}()

	if orderID == "" {
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if errs := outcome.Validate(); len(errs) > 0 {
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return domain.Order{}, fmt.Errorf("invalid outcome: %w", errors.Join(errs...))
	}

	switch outcome.Kind {
	case domain.OutcomeKindPaid:
		return r.applyPaidOutcome(orderID, outcome)
	case domain.OutcomeKindCancelled:
		reason := outcome.Reason
		if reason == "" {
			reason = "payment cancelled by provider"
		}
		if err := r.appendAdvisoryNote(orderID, domain.NoteTypeCancel, reason); err != nil {
			return domain.Order{}, err
		}
	case domain.OutcomeKindFailed:
		reason := outcome.Reason
		if reason == "" {
			reason = "payment failed at provider"
		}
		if err := r.appendAdvisoryNote(orderID, domain.NoteTypeError, reason); err != nil {
			return domain.Order{}, err
		}
	}

	order, err := r.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("reload order after note: %w", err)
	}
	return order, nil
}

// RecordProviderCancellation фиксирует отмену на стороне провайдера заметкой.
// Статус заказа не меняется: пользователь может оплатить заказ снова.
func (r *reconciler) RecordProviderCancellation(orderID, reason string) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if reason == "" {
		reason = "payment cancelled by provider"
	}
	return r.appendAdvisoryNote(orderID, domain.NoteTypeCancel, reason)
}

// CancelOrder — авторитетная отмена: условный переход pending→cancelled,
// заметка cancel и событие order.cancelled. Терминальный заказ — конфликт.
func (r *reconciler) CancelOrder(orderID, reason string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if reason == "" {
		reason = "cancelled by operator"
	}

	updated, err := r.orders.TransitionStatus(orderID, domain.OrderStatusCancelled)
	if err != nil {
		return domain.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordOrderCancelled()
	}

	r.appendBestEffortNote(orderID, domain.NoteTypeCancel, reason)
	r.emitEvent(updated, kafka.EventTypeOrderCancelled, map[string]interface{}{
		"customer_id": updated.CustomerID,
		"reason":      reason,
	})

	r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Info("order cancelled")
	return updated, nil
}

// FailOrder — авторитетный перевод pending→failed с заметкой system_error
// и событием order.failed.
func (r *reconciler) FailOrder(orderID, reason string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if reason == "" {
		reason = "stopped by system error"
	}

	updated, err := r.orders.TransitionStatus(orderID, domain.OrderStatusFailed)
	if err != nil {
		return domain.Order{}, fmt.Errorf("fail order: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordOrderFailed()
	}

	r.appendBestEffortNote(orderID, domain.NoteTypeSystemError, reason)
	r.emitEvent(updated, kafka.EventTypeOrderFailed, map[string]interface{}{
		"customer_id": updated.CustomerID,
		"reason":      reason,
	})

	r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Warn("order failed")
	return updated, nil
}

func (r *reconciler) validateCreditsArgs(customerID, orderID string, amountMinor int64) error {
	if customerID == "" {
		return domain.ErrCustomerRequired
	}
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if amountMinor <= 0 {
		return domain.ErrPaymentAmountNegative
	}
	return nil
}

// applyPaidOutcome завершает заказ по оплаченному исходу провайдера.
func (r *reconciler) applyPaidOutcome(orderID string, outcome domain.CanonicalOutcome) (domain.Order, error) {
	order, err := r.orders.Get(orderID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return domain.Order{}, fmt.Errorf("reconcile provider: %w", err)
	}

	if order.Status == domain.OrderStatusCompleted {
		r.logger.WithField("order_id", orderID).Debug("order already completed, provider outcome is a no-op")
		return order, nil
	}

	// Сумме из недоверенного канала не верим: провайдер подтвердил сумму,
	// и она обязана совпадать с суммой заказа до любой записи.
	if outcome.AmountMinor != nil && *outcome.AmountMinor != order.AmountMinor {
		r.logger.WithFields(log.Fields{
			"order_id":       orderID,
			"order_amount":   order.AmountMinor,
			"outcome_amount": *outcome.AmountMinor,
		}).Warn("provider amount mismatch, outcome rejected")
		if r.metrics != nil {
			r.metrics.RecordReconcileRejected()
		}
		return domain.Order{}, fmt.Errorf("provider confirmed %d, order total is %d: %w",
			*outcome.AmountMinor, order.AmountMinor, domain.ErrAmountMismatch)
	}

	completion := domain.PaymentCompletion{
		Method:        outcome.Provider,
		TransactionID: outcome.TransactionRef,
		CompletedAt:   time.Now().UTC(),
	}

	completeStart := time.Now()
	updated, err := r.orders.CompletePayment(orderID, completion)
	if r.metrics != nil {
		r.metrics.RecordStepDuration(string(domain.ReconcileStepComplete), time.Since(completeStart))
	}
	if err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyCompleted) {
			r.logger.WithField("order_id", orderID).Info("lost completion race on provider outcome")
			return updated, nil
		}
		if r.metrics != nil {
			if domain.IsTerminalConflict(err) {
				r.metrics.RecordReconcileRejected()
			} else {
				r.metrics.RecordReconcileFailed()
			}
		}
		return domain.Order{}, fmt.Errorf("complete payment: %w", err)
	}

	amount := order.AmountMinor
	if outcome.AmountMinor != nil {
		amount = *outcome.AmountMinor
	}
	r.recordTransaction(domain.TransactionRecord{
		OrderID:     orderID,
		Kind:        domain.TransactionKindCompletion,
		AmountMinor: amount,
		Method:      outcome.Provider,
		ProviderRef: outcome.TransactionRef,
	})
	r.emitEvent(updated, kafka.EventTypeOrderCompleted, map[string]interface{}{
		"customer_id":     updated.CustomerID,
		"method":          outcome.Provider,
		"transaction_ref": outcome.TransactionRef,
		"amount_minor":    amount,
	})

	if r.metrics != nil {
		r.metrics.RecordReconcileCompleted()
	}
	r.logger.WithFields(log.Fields{
		"order_id":        orderID,
		"provider":        outcome.Provider,
		"transaction_ref": outcome.TransactionRef,
	}).Info("order reconciled with provider payment")
	return updated, nil
}

// compensateDebit возвращает списанные кредиты после неудавшегося завершения
// и отдаёт баланс после компенсации.
func (r *reconciler) compensateDebit(customerID, orderID string, amountMinor int64) int64 {
	compensateStart := time.Now()
	restored, err := r.profiles.Credit(customerID, amountMinor)
	if r.metrics != nil {
		r.metrics.RecordStepDuration(string(domain.ReconcileStepCompensate), time.Since(compensateStart))
		r.metrics.RecordCompensation()
	}
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id":     orderID,
			"customer_id":  customerID,
			"amount_minor": amountMinor,
		}).Error("debit compensation failed, balance remains debited")
		return r.currentBalance(customerID)
	}

	r.recordTransaction(domain.TransactionRecord{
		OrderID:     orderID,
		Kind:        domain.TransactionKindCompensation,
		AmountMinor: amountMinor,
		Method:      domain.PaymentMethodCredits,
	})
	r.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"customer_id":  customerID,
		"amount_minor": amountMinor,
	}).Warn("debit compensated after failed completion")
	return restored
}

// appendAdvisoryNote пишет заметку как основной эффект операции: ошибка
// записи поднимается к вызывающему.
func (r *reconciler) appendAdvisoryNote(orderID string, noteType domain.NoteType, message string) error {
	noteStart := time.Now()
	err := r.notes.Append(orderID, noteType, message)
	if r.metrics != nil {
		r.metrics.RecordStepDuration(string(domain.ReconcileStepNote), time.Since(noteStart))
	}
	if err != nil {
		if r.metrics != nil {
			if domain.IsNotFound(err) {
				r.metrics.RecordReconcileRejected()
			} else {
				r.metrics.RecordReconcileFailed()
			}
		}
		return fmt.Errorf("append advisory note: %w", err)
	}
	return nil
}

// appendBestEffortNote пишет заметку аудита: ошибка логируется и не влияет
// на исход операции.
func (r *reconciler) appendBestEffortNote(orderID string, noteType domain.NoteType, message string) {
	if err := r.notes.Append(orderID, noteType, message); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id":  orderID,
			"note_type": noteType,
		}).Warn("append audit note failed")
	}
}

// recordTransaction дописывает запись в журнал движений. Журнал best-effort:
// ошибка записи логируется и не роняет операцию.
func (r *reconciler) recordTransaction(record domain.TransactionRecord) {
	if r.txlog == nil {
		return
	}
	if err := r.txlog.Append(record); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"order_id": record.OrderID,
			"kind":     record.Kind,
		}).Warn("append transaction record failed")
	}
}

// currentBalance возвращает баланс покупателя для no-op ответов; при ошибке 0.
func (r *reconciler) currentBalance(customerID string) int64 {
	profile, err := r.profiles.Get(customerID)
	if err != nil {
		return 0
	}
	return profile.CreditsMinor
}

// emitEvent кладёт событие в transactional outbox; публикацией в Kafka
// владеет outbox-воркер. Эффект best-effort.
func (r *reconciler) emitEvent(order domain.Order, eventType kafka.EventType, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["status"] = string(order.Status)
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	if r.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("marshal event failed")
			return
		}
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     string(eventType),
			Payload:       data,
		}
		if _, err := r.outbox.Enqueue(msg); err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if r.metrics != nil {
			r.metrics.RecordOutboxEvent()
		}
	}
}

var _ Reconciler = (*reconciler)(nil)
