package domain

import "time"

// InitiateRequest — запрос на инициацию платежа у внешнего провайдера.
type InitiateRequest struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	// OrderName — человекочитаемое название заказа для платёжной страницы.
	OrderName string
	// PayerContact — контакт плательщика (email), если провайдер его требует.
	PayerContact string
}

// InitiateResult — результат инициации: куда направить пользователя.
type InitiateResult struct {
	PaymentID   string
	RedirectURL string
}

// RawOutcome — сырой payload провайдера до нормализации.
type RawOutcome map[string]any

// PaymentProvider описывает взаимодействие с внешним платёжным провайдером.
// Normalize — чистая функция: валидация и отображение без обращений к сети.
type PaymentProvider interface {
	// Name возвращает имя адаптера, под которым он зарегистрирован.
	Name() string
	// Initiate создаёт платёж у провайдера и возвращает redirect-ссылку.
	Initiate(req InitiateRequest) (InitiateResult, error)
	// Verify запрашивает у провайдера авторитетное состояние платежа.
	// Клиентским данным об исходе сервис не доверяет.
	Verify(paymentID string) (RawOutcome, error)
	// Normalize отображает сырой payload в канонический исход. Отсутствие
	// обязательных полей — MissingFieldsError.
	Normalize(raw RawOutcome) (CanonicalOutcome, error)
}

// NoteAppender добавляет заметку в журнал заказа.
type NoteAppender interface {
	Append(orderID string, noteType NoteType, message string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по Idempotency-Key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// ReconcileStep задаёт константы шагов для метрик/логов.
type ReconcileStep string

const (
	ReconcileStepVerify     ReconcileStep = "verify"
	ReconcileStepDebit      ReconcileStep = "debit"
	ReconcileStepComplete   ReconcileStep = "complete"
	ReconcileStepCompensate ReconcileStep = "compensate"
	ReconcileStepNote       ReconcileStep = "note"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
