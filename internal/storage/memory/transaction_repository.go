package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partitura-music/payments/internal/domain"
)

// transactionLogInMemory хранит журнал платёжных операций в памяти.
type transactionLogInMemory struct {
	mu      sync.RWMutex
	records map[string][]domain.TransactionRecord
}

// NewTransactionLogRepository создаёт in-memory реализацию TransactionLogRepository.
func NewTransactionLogRepository() *transactionLogInMemory {
	return &transactionLogInMemory{records: make(map[string][]domain.TransactionRecord)}
}

// Append добавляет запись в журнал заказа.
func (r *transactionLogInMemory) Append(rec domain.TransactionRecord) error {
	if rec.OrderID == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	r.records[rec.OrderID] = append(r.records[rec.OrderID], rec)

	sort.Slice(r.records[rec.OrderID], func(i, j int) bool {
		return r.records[rec.OrderID][i].CreatedAt.Before(r.records[rec.OrderID][j].CreatedAt)
	})

	return nil
}

// ListByOrder возвращает записи заказа в хронологическом порядке.
func (r *transactionLogInMemory) ListByOrder(orderID string) ([]domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.records[orderID]
	result := make([]domain.TransactionRecord, len(records))
	copy(result, records)
	return result, nil
}

var _ domain.TransactionLogRepository = (*transactionLogInMemory)(nil)
