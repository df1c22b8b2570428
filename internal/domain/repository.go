package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
//
// Записи, меняющие статус, обязаны быть условными: обновление выполняется
// только пока заказ pending, и хранилище по количеству затронутых строк
// различает "не найден" и "уже в терминальном статусе". Так закрывается
// гонка двух одновременных reconciliation для одного заказа.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если запись с таким ID уже есть.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByIDs возвращает заказы с позициями одним батчем. Отсутствующие
	// идентификаторы молча пропускаются; порядок результата следует порядку ids.
	ListByIDs(ids []string) ([]Order, error)
	// CompletePayment условно переводит pending-заказ в completed/paid и
	// возвращает итоговое состояние. Если заказ уже completed, возвращает
	// текущее состояние вместе с ErrOrderAlreadyCompleted; для
	// cancelled/failed — ErrOrderNotPending.
	CompletePayment(id string, completion PaymentCompletion) (Order, error)
	// TransitionStatus условно переводит pending-заказ в cancelled или failed.
	// Семантика ошибок совпадает с CompletePayment.
	TransitionStatus(id string, next OrderStatus) (Order, error)
	// UpdateNotes записывает metadata целиком вместе с проекцией payment_note.
	// Если колонка проекции отсутствует в схеме, возвращает
	// ErrPaymentNoteColumnMissing, не записав ничего.
	UpdateNotes(id string, md OrderMetadata, projected string) error
	// UpdateNotesMetadataOnly — fallback-запись только metadata для схем без
	// колонки payment_note.
	UpdateNotesMetadataOnly(id string, md OrderMetadata) error
	// SetExpectedCompletion назначает дату готовности перечисленным заказам
	// одной батч-записью и возвращает идентификаторы фактически обновлённых.
	SetExpectedCompletion(ids []string, date time.Time) ([]string, error)
}

// ProfileRepository описывает требования к хранилищу профилей покупателей.
type ProfileRepository interface {
	// Create сохраняет новый профиль. Возвращает ErrProfileAlreadyExists, если ID занят.
	Create(profile Profile) error
	// Get возвращает профиль или ErrProfileNotFound.
	Get(id string) (Profile, error)
	// Debit атомарно списывает amount при достаточном балансе и возвращает
	// остаток. При нехватке средств возвращает InsufficientCreditsError с
	// текущим балансом, ничего не меняя.
	Debit(id string, amount int64) (int64, error)
	// Credit атомарно начисляет amount (компенсация или пополнение) и
	// возвращает новый баланс.
	Credit(id string, amount int64) (int64, error)
}

// TransactionLogRepository хранит журнал платёжных операций по заказам.
type TransactionLogRepository interface {
	Append(rec TransactionRecord) error
	ListByOrder(orderID string) ([]TransactionRecord, error)
}
