package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partitura-music/payments/internal/domain"
)

// transactionLogRepository — PostgreSQL-реализация TransactionLogRepository.
// Журнал пишется только в append-режиме; порядок чтения стабилен за счёт
// сортировки по created_at и id.
type transactionLogRepository struct {
	db *sql.DB
}

// NewTransactionLogRepository создаёт PostgreSQL-реализацию TransactionLogRepository.
func NewTransactionLogRepository(store *Store) *transactionLogRepository {
	return &transactionLogRepository{db: store.DB()}
}

func (r *transactionLogRepository) Append(record domain.TransactionRecord) error {
	if record.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transaction_log (
			id, order_id, kind, amount_minor, method, provider_ref, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		record.ID, record.OrderID, string(record.Kind), record.AmountMinor,
		record.Method, record.ProviderRef, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction record: %w", err)
	}

	return nil
}

func (r *transactionLogRepository) ListByOrder(orderID string) ([]domain.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, kind, amount_minor, method, provider_ref, created_at
		FROM transaction_log
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select transaction records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.TransactionRecord, 0)
	for rows.Next() {
		var (
			record domain.TransactionRecord
			kind   string
		)
		if err := rows.Scan(
			&record.ID, &record.OrderID, &kind, &record.AmountMinor,
			&record.Method, &record.ProviderRef, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction record: %w", err)
		}
		record.Kind = domain.TransactionKind(kind)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction records: %w", err)
	}

	return records, nil
}

var _ domain.TransactionLogRepository = (*transactionLogRepository)(nil)
