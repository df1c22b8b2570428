package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicPaymentEvents {
			t.Errorf("expected topic %s, got %s", TopicPaymentEvents, msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event PaymentEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.EventType != EventTypeOrderCompleted || event.OrderID != "order-123" {
			t.Errorf("unexpected event body: %+v", event)
		}
		return nil
	})

	event := NewPaymentEvent(
		EventTypeOrderCompleted,
		"order-123",
		map[string]interface{}{
			"customer_id": "customer-1",
		},
	)

	if err := producer.PublishEvent(TopicPaymentEvents, "order-123", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewPaymentEvent(EventTypeOrderCompleted, "order-123", nil)

	if err := producer.PublishEvent(TopicPaymentEvents, "order-123", event); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishRawKeepsHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderRetryCount {
			t.Errorf("expected retry header preserved, got %+v", msg.Headers)
		}
		return nil
	})

	headers := []sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}}
	if err := producer.PublishRaw(TopicProviderEvents, "order-1", []byte(`{"provider":"paypal"}`), headers); err != nil {
		t.Fatalf("publish raw: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewPaymentEvent(t *testing.T) {
	orderID := "order-123"
	metadata := map[string]interface{}{
		"customer_id":  "customer-1",
		"amount_minor": 2499,
	}

	event := NewPaymentEvent(EventTypeOrderCompleted, orderID, metadata)

	if event.EventType != EventTypeOrderCompleted {
		t.Errorf("expected event type %s, got %s", EventTypeOrderCompleted, event.EventType)
	}
	if event.OrderID != orderID {
		t.Errorf("expected order id %s, got %s", orderID, event.OrderID)
	}
	if event.Metadata["customer_id"] != "customer-1" {
		t.Error("metadata not set correctly")
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestNewProviderEvent(t *testing.T) {
	event := NewProviderEvent("paypal", "5O190127TN364715T", "order-123", map[string]interface{}{
		"status": "COMPLETED",
	})

	if event.Provider != "paypal" {
		t.Errorf("expected provider paypal, got %s", event.Provider)
	}
	if event.PaymentID != "5O190127TN364715T" {
		t.Errorf("expected payment id, got %s", event.PaymentID)
	}
	if event.OrderID != "order-123" {
		t.Errorf("expected order id, got %s", event.OrderID)
	}
	if event.Payload["status"] != "COMPLETED" {
		t.Error("payload not set correctly")
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}

func TestDLQTopic(t *testing.T) {
	if got := DLQTopic(TopicProviderEvents); got != TopicProviderEventsDLQ {
		t.Fatalf("expected %s, got %s", TopicProviderEventsDLQ, got)
	}
	if got := DLQTopic(TopicPaymentEvents); got != TopicPaymentEventsDLQ {
		t.Fatalf("expected %s, got %s", TopicPaymentEventsDLQ, got)
	}
}
