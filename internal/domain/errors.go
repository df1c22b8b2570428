package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка отсутствующего идентификатора издания в позиции.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка неподдерживаемого типа продажи позиции.
	ErrItemSalesTypeInvalid = errors.New("item sales type must be DIGITAL or PREORDER")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrItemsTotalMismatch = errors.New("order amount does not match items sum")
	// Ошибка назначения даты готовности заказу без PREORDER-позиций.
	ErrCompletionDateNotApplicable = errors.New("expected completion date requires a preorder item")
	// Ошибка некорректной календарной даты готовности.
	ErrInvalidCompletionDate = errors.New("expected completion date must be a valid YYYY-MM-DD date")
	// Ошибка пустого текста платёжной заметки.
	ErrNoteMessageRequired = errors.New("note message is required")

	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при создании заказа с занятым ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderAlreadyCompleted — заказ уже completed; reconciliation обязана
	// трактовать это как успешный no-op, а не как ошибку.
	ErrOrderAlreadyCompleted = errors.New("order already completed")
	// ErrOrderNotPending — условная запись не прошла: заказ в терминальном
	// статусе, отличном от completed (cancelled или failed).
	ErrOrderNotPending = errors.New("order is not pending")

	// ErrProfileNotFound возвращается, если профиль покупателя не найден.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileAlreadyExists возвращается при создании профиля с занятым ID.
	ErrProfileAlreadyExists = errors.New("profile already exists")
	// Ошибка отсутствующего идентификатора профиля.
	ErrProfileIDRequired = errors.New("profile id is required")
	// Ошибка отрицательного баланса кредитов.
	ErrCreditsNegative = errors.New("credits must be non-negative")
	// Ошибка неположительной суммы пополнения.
	ErrTopUpAmountInvalid = errors.New("top-up amount must be positive")

	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора платежа провайдера.
	ErrPaymentIDRequired = errors.New("payment_id is required")
	// Ошибка отсутствующего провайдера в нормализованном исходе.
	ErrOutcomeProviderRequired = errors.New("outcome provider is required")
	// Ошибка неподдерживаемого вида исхода.
	ErrOutcomeKindInvalid = errors.New("outcome kind is invalid")
	// Ошибка отсутствующей транзакционной ссылки для оплаченного исхода.
	ErrOutcomeRefRequired = errors.New("paid outcome requires a transaction reference")
	// ErrAmountMismatch — сумма, подтверждённая провайдером, не совпадает с
	// суммой заказа; исход отклоняется до любой записи.
	ErrAmountMismatch = errors.New("provider amount does not match order total")
	// ErrProviderNotConfigured — адаптер с таким именем не зарегистрирован.
	ErrProviderNotConfigured = errors.New("payment provider is not configured")
	// ErrProviderUnavailable — непрозрачная ошибка внешнего провайдера.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPaymentNoteColumnMissing — колонка payment_note отсутствует в схеме
	// хранилища. Обрабатывается fallback-записью только metadata и наружу не
	// поднимается.
	ErrPaymentNoteColumnMissing = errors.New("payment_note column missing")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — запись с таким ключом уже создана.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует или истекла.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientCreditsError несёт текущий баланс и требуемую сумму, чтобы
// вызывающая сторона могла показать их пользователю. Состояние при этой
// ошибке не меняется.
type InsufficientCreditsError struct {
	Current  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Current, e.Required)
}

// MissingFieldsError — нарушение контракта провайдера: в сыром payload нет
// обязательных полей. Перечень полей попадает в ответ для диагностики.
type MissingFieldsError struct {
	Provider string
	Fields   []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("provider %s payload is missing required fields: %s", e.Provider, strings.Join(e.Fields, ", "))
}

// IsNotFound проверяет, является ли ошибка отсутствием заказа или профиля.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrProfileNotFound)
}

// IsInsufficientCredits проверяет ошибку нехватки кредитов и возвращает её детали.
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}

// IsMissingFields проверяет ошибку неполного payload провайдера.
func IsMissingFields(err error) (*MissingFieldsError, bool) {
	var mfe *MissingFieldsError
	if errors.As(err, &mfe) {
		return mfe, true
	}
	return nil, false
}

// IsTerminalConflict проверяет, что условная запись не прошла из-за
// терминального статуса заказа.
func IsTerminalConflict(err error) bool {
	return errors.Is(err, ErrOrderAlreadyCompleted) || errors.Is(err, ErrOrderNotPending)
}

// IsIdempotencyConflict проверяет, является ли ошибка конфликтом идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
