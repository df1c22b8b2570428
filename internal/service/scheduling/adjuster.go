// Package scheduling реализует батч-назначение ожидаемой даты готовности
// предзаказам. Кандидаты фильтруются по владению PREORDER-позицией; заказы без
// неё пропускаются и перечисляются в отчёте.
package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/messaging/kafka"
	"github.com/partitura-music/payments/internal/metrics"
)

// Adjuster описывает батч-обновление даты готовности.
type Adjuster interface {
	BulkSetExpectedCompletion(orderIDs []string, rawDate string) (Report, error)
}

// Report перечисляет обе части разбиения, чтобы вызывающая сторона могла
// объяснить оператору частичное применение. Ненайденные идентификаторы не
// попадают ни в одно множество.
type Report struct {
	UpdatedCount    int
	SkippedCount    int
	UpdatedOrderIDs []string
	SkippedOrderIDs []string
}

type adjuster struct {
	orders  domain.OrderRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.PaymentMetrics
}

// NewAdjuster создаёт рабочий adjuster.
func NewAdjuster(orders domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) Adjuster {
	if logger == nil {
		logger = log.New().WithField("component", "scheduling")
	}
	return &adjuster{
		orders:  orders,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewPaymentMetrics(),
	}
}

// NewAdjusterWithoutMetrics создаёт adjuster без метрик (для тестов).
func NewAdjusterWithoutMetrics(orders domain.OrderRepository, outbox domain.OutboxRepository, logger *log.Entry) Adjuster {
	if logger == nil {
		logger = log.New().WithField("component", "scheduling")
	}
	return &adjuster{
		orders: orders,
		outbox: outbox,
		logger: logger,
	}
}

// BulkSetExpectedCompletion валидирует дату до каких-либо чтений, загружает
// кандидатов одним батчем, разбивает их по предикату "владеет хотя бы одной
// PREORDER-позицией" и пишет дату только qualifying-части одной батч-записью.
// Предикат оценивается на заказ целиком, не по отдельным позициям.
func (a *adjuster) BulkSetExpectedCompletion(orderIDs []string, rawDate string) (Report, error) {
	date, err := domain.ParseCompletionDate(rawDate)
	if err != nil {
		return Report{}, err
	}
	if len(orderIDs) == 0 {
		return Report{}, domain.ErrOrderIDRequired
	}

	candidates, err := a.orders.ListByIDs(orderIDs)
	if err != nil {
		return Report{}, fmt.Errorf("load candidate orders: %w", err)
	}

	qualifying := make([]string, 0, len(candidates))
	skipped := make([]string, 0)
	for _, order := range candidates {
		if order.HasPreorderItem() {
			qualifying = append(qualifying, order.ID)
		} else {
			skipped = append(skipped, order.ID)
		}
	}

	var updated []string
	if len(qualifying) > 0 {
		updated, err = a.orders.SetExpectedCompletion(qualifying, date)
		if err != nil {
			return Report{}, fmt.Errorf("set expected completion: %w", err)
		}
	}

	report := Report{
		UpdatedCount:    len(updated),
		SkippedCount:    len(skipped),
		UpdatedOrderIDs: updated,
		SkippedOrderIDs: skipped,
	}

	a.emitUpdatedEvents(updated, date)
	if a.metrics != nil {
		a.metrics.RecordBulkCompletion(report.UpdatedCount, report.SkippedCount)
	}
	a.logger.WithFields(log.Fields{
		"date":      rawDate,
		"requested": len(orderIDs),
		"updated":   report.UpdatedCount,
		"skipped":   report.SkippedCount,
	}).Info("bulk expected completion applied")

	return report, nil
}

// emitUpdatedEvents кладёт событие completion_date.updated в outbox для каждого
// обновлённого заказа. Best-effort: ошибка логируется и не меняет отчёт.
func (a *adjuster) emitUpdatedEvents(orderIDs []string, date time.Time) {
	if a.outbox == nil {
		return
	}

	rendered := date.Format(domain.CompletionDateLayout)
	for _, id := range orderIDs {
		payload, err := json.Marshal(map[string]interface{}{
			"order_id":                 id,
			"expected_completion_date": rendered,
			"ts":                       time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			a.logger.WithError(err).WithField("order_id", id).Error("marshal completion event failed")
			continue
		}
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   id,
			EventType:     string(kafka.EventTypeCompletionUpdated),
			Payload:       payload,
		}
		if _, err := a.outbox.Enqueue(msg); err != nil {
			a.logger.WithError(err).WithField("order_id", id).Error("enqueue completion event failed")
			continue
		}
		if a.metrics != nil {
			a.metrics.RecordOutboxEvent()
		}
	}
}

var _ Adjuster = (*adjuster)(nil)
