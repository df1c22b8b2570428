package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в магазине нот.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted — оплата подтверждена, заказ исполнен. Терминальный статус:
	// повторная reconciliation для completed-заказа — успешный no-op.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed — заказ остановлен системной ошибкой. Терминальный статус.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled — заказ отменён внутренним решением. Терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет ребро графа переходов. Разрешены только
// pending→completed, pending→failed и pending→cancelled; из completed
// обратных рёбер нет.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s != OrderStatusPending {
		return false
	}
	switch next {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentStatus отражает факт оплаты независимо от статуса исполнения заказа.
type PaymentStatus string

const (
	// PaymentStatusUnpaid — средства по заказу не поступали.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid — оплата зафиксирована (кредиты или внешний провайдер).
	PaymentStatusPaid PaymentStatus = "paid"
)

// PaymentMethodCredits — оплата внутренними кредитами профиля.
// Для внешних провайдеров в payment_method пишется имя адаптера.
const PaymentMethodCredits = "credits"

// SalesType классифицирует позицию заказа.
type SalesType string

const (
	// SalesTypePreorder — предзаказ: издание ещё не доступно, заказу назначается
	// ожидаемая дата готовности.
	SalesTypePreorder SalesType = "PREORDER"
	// SalesTypeDigital — обычная цифровая доставка сразу после оплаты.
	SalesTypeDigital SalesType = "DIGITAL"
)

// Valid проверяет, что тип продажи относится к поддерживаемым значениям.
func (t SalesType) Valid() bool {
	switch t {
	case SalesTypePreorder, SalesTypeDigital:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа (одно издание).
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — внешний идентификатор издания в каталоге.
	ProductID string
	// Title — название издания на момент покупки.
	Title string
	// SalesType определяет, участвует ли позиция в предзаказной логике.
	SalesType SalesType
	// PriceMinor — цена позиции в минимальных денежных единицах.
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// OrderMetadata — структурированная запись вместо открытого словаря.
// SchemaVersion позволяет эволюционировать формат, PaymentNotes хранит
// append-only журнал, Extra оставлен для несхематизированных расширений.
type OrderMetadata struct {
	SchemaVersion int            `json:"schema_version"`
	PaymentNotes  []PaymentNote  `json:"payment_notes,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// MetadataSchemaVersion — текущая версия формата metadata.
const MetadataSchemaVersion = 1

// Clone возвращает глубокую копию metadata; журнал заметок никогда не
// разделяется между копиями заказа.
func (m OrderMetadata) Clone() OrderMetadata {
	out := OrderMetadata{SchemaVersion: m.SchemaVersion}
	if len(m.PaymentNotes) > 0 {
		out.PaymentNotes = make([]PaymentNote, len(m.PaymentNotes))
		copy(out.PaymentNotes, m.PaymentNotes)
	}
	if len(m.Extra) > 0 {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	CustomerID    string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	// PaymentMethod — свободная метка способа оплаты: "credits" или имя провайдера.
	PaymentMethod string
	// TransactionID — внешняя ссылка провайдера; пустая до подтверждения оплаты.
	TransactionID string
	Currency      string
	AmountMinor   int64
	// ExpectedCompletionDate назначается только заказам хотя бы с одной
	// PREORDER-позицией.
	ExpectedCompletionDate *time.Time
	Metadata               OrderMetadata
	// PaymentNote — проекция последней заметки журнала для O(1) отображения.
	PaymentNote string
	Items       []OrderItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPreorderItem сообщает, владеет ли заказ хотя бы одной PREORDER-позицией.
// Предикат оценивается на заказ целиком, не по отдельным позициям.
func (o *Order) HasPreorderItem() bool {
	for _, item := range o.Items {
		if item.SalesType == SalesTypePreorder {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию заказа для безопасной выдачи из хранилищ.
func (o *Order) Clone() Order {
	out := *o
	out.Metadata = o.Metadata.Clone()
	if len(o.Items) > 0 {
		out.Items = make([]OrderItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	if o.ExpectedCompletionDate != nil {
		d := *o.ExpectedCompletionDate
		out.ExpectedCompletionDate = &d
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций.
	var calc int64
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrItemsTotalMismatch)
	}

	if o.ExpectedCompletionDate != nil && !o.HasPreorderItem() {
		errs = append(errs, ErrCompletionDateNotApplicable)
	}

	return errs
}

// PaymentCompletion описывает поля, записываемые при переводе заказа в completed.
type PaymentCompletion struct {
	Method        string
	TransactionID string
	CompletedAt   time.Time
}

// CompletionDateLayout — строгий календарный формат ожидаемой даты готовности.
const CompletionDateLayout = "2006-01-02"

// ParseCompletionDate разбирает дату в формате YYYY-MM-DD. time.Parse
// отклоняет несуществующие календарные даты ("2024-13-40"), так что
// дополнительная проверка диапазонов не нужна.
func ParseCompletionDate(raw string) (time.Time, error) {
	d, err := time.Parse(CompletionDateLayout, raw)
	if err != nil {
		return time.Time{}, ErrInvalidCompletionDate
	}
	return d.UTC(), nil
}
