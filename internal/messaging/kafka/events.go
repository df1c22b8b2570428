package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Платёжные события жизненного цикла заказа
	EventTypePaymentInitiated EventType = "payment.initiated"
	EventTypeOrderCompleted   EventType = "order.completed"
	EventTypeOrderCancelled   EventType = "order.cancelled"
	EventTypeOrderFailed      EventType = "order.failed"

	// События заметок и bulk-обновлений
	EventTypeNoteAppended      EventType = "note.appended"
	EventTypeCompletionUpdated EventType = "completion_date.updated"
)

// Topics для Kafka
const (
	// TopicPaymentEvents — исходящие события платёжного ядра (через outbox).
	TopicPaymentEvents    = "partitura.payment.events"
	TopicPaymentEventsDLQ = "partitura.payment.events.dlq"

	// TopicProviderEvents — входящие сигналы провайдеров (webhook-релей).
	TopicProviderEvents    = "partitura.provider.events"
	TopicProviderEventsDLQ = "partitura.provider.events.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// DLQTopic возвращает имя dead-letter очереди для topic.
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// PaymentEvent представляет событие платёжного ядра
type PaymentEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ProviderEvent представляет входящий сигнал провайдера из webhook-релея.
// Payload передаётся адаптеру как есть и нормализуется на нашей стороне.
type ProviderEvent struct {
	Provider  string                 `json:"provider"`
	PaymentID string                 `json:"payment_id"`
	OrderID   string                 `json:"order_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewPaymentEvent создает новое платёжное событие
func NewPaymentEvent(eventType EventType, orderID string, metadata map[string]interface{}) *PaymentEvent {
	return &PaymentEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewProviderEvent создает новый входящий сигнал провайдера
func NewProviderEvent(provider, paymentID, orderID string, payload map[string]interface{}) *ProviderEvent {
	return &ProviderEvent{
		Provider:  provider,
		PaymentID: paymentID,
		OrderID:   orderID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
