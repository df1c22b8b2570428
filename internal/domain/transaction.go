package domain

import "time"

// TransactionKind — тип записи в журнале платёжных операций.
type TransactionKind string

const (
	// TransactionKindInitiation — платёж инициирован у провайдера.
	TransactionKindInitiation TransactionKind = "initiation"
	// TransactionKindDebit — списание кредитов с профиля.
	TransactionKindDebit TransactionKind = "debit"
	// TransactionKindCompletion — заказ переведён в completed.
	TransactionKindCompletion TransactionKind = "completion"
	// TransactionKindCompensation — возврат списанных кредитов после неудачной записи заказа.
	TransactionKindCompensation TransactionKind = "compensation"
)

// TransactionRecord — запись аудиторского журнала платёжных операций.
// Журнал append-only и является необязательным побочным каналом: ошибка
// записи логируется, но не проваливает основную операцию.
type TransactionRecord struct {
	ID          string
	OrderID     string
	Kind        TransactionKind
	AmountMinor int64
	// Method — способ оплаты на момент операции ("credits" или имя провайдера).
	Method string
	// ProviderRef — внешняя ссылка провайдера, если применимо.
	ProviderRef string
	CreatedAt   time.Time
}
