package reconcile

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/messaging/kafka"
	"github.com/partitura-music/payments/internal/provider"
)

// NewProviderEventHandler строит обработчик входящих сигналов провайдеров для
// Kafka consumer. Телу сигнала не доверяем: адаптер запрашивает авторитетное
// состояние платежа у провайдера и нормализует его, как и синхронный
// verify-endpoint. Ошибка возвращается consumer'у, который ограниченно
// повторяет доставку и затем уводит сообщение в DLQ.
func NewProviderEventHandler(providers *provider.Registry, rec Reconciler, logger *log.Entry) kafka.MessageHandler {
	if logger == nil {
		logger = log.New().WithField("component", "provider-events")
	}

	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseProviderEvent(message)
		if err != nil {
			return err
		}
		if event.OrderID == "" {
			return domain.ErrOrderIDRequired
		}

		adapter, err := providers.Lookup(event.Provider)
		if err != nil {
			return fmt.Errorf("provider event for order %s: %w", event.OrderID, err)
		}

		raw, err := adapter.Verify(event.PaymentID)
		if err != nil {
			return fmt.Errorf("verify payment %s: %w", event.PaymentID, err)
		}
		outcome, err := adapter.Normalize(raw)
		if err != nil {
			return fmt.Errorf("normalize payment %s: %w", event.PaymentID, err)
		}

		order, err := rec.ReconcileProvider(event.OrderID, outcome)
		if err != nil {
			return fmt.Errorf("reconcile order %s: %w", event.OrderID, err)
		}

		logger.WithFields(log.Fields{
			"order_id": event.OrderID,
			"provider": adapter.Name(),
			"kind":     outcome.Kind,
			"status":   order.Status,
		}).Info("provider event reconciled")
		return nil
	}
}
