package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/messaging/kafka"
	"github.com/partitura-music/payments/internal/provider"
	"github.com/partitura-music/payments/internal/service/reconcile"
)

// providerEventMaxRetries — сколько раз consumer повторяет обработку
// провайдерского сигнала, прежде чем отправить его в DLQ.
const providerEventMaxRetries = 3

// initKafkaProducer создаёт producer, если брокеры указаны. Пустой список —
// осознанный запуск без Kafka: возвращается (nil, nil), события остаются
// в outbox до появления брокера.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// startProviderConsumer подписывается на поток провайдерских сигналов и
// сверяет каждый платёж через Reconciler. Сообщения, не обработанные за
// providerEventMaxRetries попыток, уходят в DLQ-топик.
func startProviderConsumer(
	ctx context.Context,
	cfg Config,
	producer *kafka.Producer,
	providers *provider.Registry,
	rec reconcile.Reconciler,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	handler := reconcile.NewProviderEventHandler(providers, rec, logger.WithField("component", "provider-events"))
	consumer, err := kafka.NewConsumerWithDLQ(
		splitBrokers(cfg.KafkaBrokers),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicProviderEvents},
		handler,
		producer,
		providerEventMaxRetries,
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}

	logger.WithField("topic", kafka.TopicProviderEvents).Info("provider events consumer started")
	return consumer, nil
}

// stopConsumer останавливает consumer, если он был запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
