package memory

import (
	"sync"
	"time"

	"github.com/partitura-music/payments/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository для
// локальной разработки и тестов. Условные операции выполняются под одним
// мьютексом, поэтому дают ту же семантику, что условные UPDATE в Postgres.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order

	// simulateMissingNoteColumn заставляет UpdateNotes возвращать
	// ErrPaymentNoteColumnMissing, как схема без колонки payment_note.
	simulateMissingNoteColumn bool
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() *orderRepositoryInMemory {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// SetSimulateMissingNoteColumn включает имитацию схемы без колонки payment_note.
func (r *orderRepositoryInMemory) SetSimulateMissingNoteColumn(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.simulateMissingNoteColumn = v
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order.Clone()
	return nil
}

// Get возвращает копию заказа или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListByIDs возвращает найденные заказы в порядке переданных идентификаторов.
// Отсутствующие и повторные идентификаторы пропускаются.
func (r *orderRepositoryInMemory) ListByIDs(ids []string) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if order, ok := r.items[id]; ok {
			result = append(result, order.Clone())
		}
	}
	return result, nil
}

// CompletePayment условно переводит pending-заказ в completed. Проверка
// статуса и запись происходят под одним замком: из двух одновременных
// вызовов выигрывает ровно один.
func (r *orderRepositoryInMemory) CompletePayment(id string, completion domain.PaymentCompletion) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCompleted {
		return order.Clone(), domain.ErrOrderAlreadyCompleted
	}
	if order.Status != domain.OrderStatusPending {
		return order.Clone(), domain.ErrOrderNotPending
	}

	completedAt := completion.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	order.Status = domain.OrderStatusCompleted
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentMethod = completion.Method
	order.TransactionID = completion.TransactionID
	order.UpdatedAt = completedAt
	r.items[id] = order

	return order.Clone(), nil
}

// TransitionStatus условно переводит pending-заказ в cancelled или failed.
func (r *orderRepositoryInMemory) TransitionStatus(id string, next domain.OrderStatus) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCompleted {
		return order.Clone(), domain.ErrOrderAlreadyCompleted
	}
	if !order.Status.CanTransitionTo(next) {
		return order.Clone(), domain.ErrOrderNotPending
	}

	order.Status = next
	order.UpdatedAt = time.Now().UTC()
	r.items[id] = order

	return order.Clone(), nil
}

// UpdateNotes записывает metadata вместе с проекцией payment_note.
func (r *orderRepositoryInMemory) UpdateNotes(id string, md domain.OrderMetadata, projected string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.simulateMissingNoteColumn {
		return domain.ErrPaymentNoteColumnMissing
	}

	order, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.Metadata = md.Clone()
	order.PaymentNote = projected
	order.UpdatedAt = time.Now().UTC()
	r.items[id] = order

	return nil
}

// UpdateNotesMetadataOnly — fallback-запись metadata без проекции.
func (r *orderRepositoryInMemory) UpdateNotesMetadataOnly(id string, md domain.OrderMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.Metadata = md.Clone()
	order.UpdatedAt = time.Now().UTC()
	r.items[id] = order

	return nil
}

// SetExpectedCompletion назначает дату готовности перечисленным заказам.
// Возвращает идентификаторы фактически обновлённых записей.
func (r *orderRepositoryInMemory) SetExpectedCompletion(ids []string, date time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	updated := make([]string, 0, len(ids))
	for _, id := range ids {
		order, ok := r.items[id]
		if !ok {
			continue
		}
		d := date
		order.ExpectedCompletionDate = &d
		order.UpdatedAt = now
		r.items[id] = order
		updated = append(updated, id)
	}

	return updated, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
