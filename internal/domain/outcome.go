package domain

// OutcomeKind — канонический результат платёжной попытки, не зависящий от
// провайдера, который его произвёл.
type OutcomeKind string

const (
	// OutcomeKindPaid — провайдер подтвердил оплату.
	OutcomeKindPaid OutcomeKind = "paid"
	// OutcomeKindCancelled — пользователь отменил платёж на стороне провайдера.
	// Сигнал advisory: заказ остаётся pending, пользователь может повторить оплату.
	OutcomeKindCancelled OutcomeKind = "cancelled"
	// OutcomeKindFailed — провайдер отклонил платёж или вернул ошибку.
	OutcomeKindFailed OutcomeKind = "failed"
)

// Valid проверяет, что значение относится к поддерживаемым исходам.
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeKindPaid, OutcomeKindCancelled, OutcomeKindFailed:
		return true
	default:
		return false
	}
}

// CanonicalOutcome — нормализованный результат платежа от адаптера провайдера.
type CanonicalOutcome struct {
	// Provider — имя адаптера, породившего исход.
	Provider string
	Kind     OutcomeKind
	// TransactionRef — внешняя ссылка провайдера; обязательна для Paid.
	TransactionRef string
	// AmountMinor — сумма, подтверждённая провайдером; nil, если провайдер её
	// не сообщает. При наличии сверяется с суммой заказа до любой записи.
	AmountMinor *int64
	// Reason — человекочитаемая причина для Cancelled/Failed, попадает в журнал заметок.
	Reason string
}

// Validate проверяет корректность нормализованного исхода.
func (c *CanonicalOutcome) Validate() []error {
	var errs []error

	if c.Provider == "" {
		errs = append(errs, ErrOutcomeProviderRequired)
	}
	if !c.Kind.Valid() {
		errs = append(errs, ErrOutcomeKindInvalid)
	}
	if c.Kind == OutcomeKindPaid && c.TransactionRef == "" {
		errs = append(errs, ErrOutcomeRefRequired)
	}
	if c.AmountMinor != nil && *c.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}
