package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/partitura-music/payments/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

// orderRepository — PostgreSQL-реализация OrderRepository.
//
// Репозиторий переживает схему без колонки payment_note (миграция 0003 ещё
// не доехала до реплики): первый SQLSTATE 42703 переводит его в режим
// fallback, в котором чтения подставляют пустую проекцию, а UpdateNotes
// сразу возвращает ErrPaymentNoteColumnMissing.
type orderRepository struct {
	db                *sql.DB
	noteColumnMissing atomic.Bool
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) *orderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	metadata, err := json.Marshal(order.Metadata)
	if err != nil {
		return fmt.Errorf("encode order metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, status, payment_status, payment_method, transaction_id,
			currency, amount_minor, expected_completion_date, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		order.ID, order.CustomerID, string(order.Status), string(order.PaymentStatus),
		order.PaymentMethod, order.TransactionID, order.Currency, order.AmountMinor,
		order.ExpectedCompletionDate, metadata, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, title, sales_type, price_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, order.ID, item.ProductID, item.Title,
			string(item.SalesType), item.PriceMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.getOrder(ctx, id)
	if isUndefinedColumn(err) {
		r.noteColumnMissing.Store(true)
		order, err = r.getOrder(ctx, id)
	}
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// ListByIDs возвращает найденные заказы в порядке переданных идентификаторов;
// отсутствующие и повторные идентификаторы пропускаются. Заказы и позиции
// загружаются двумя батч-запросами независимо от размера входа.
func (r *orderRepository) ListByIDs(ids []string) ([]domain.Order, error) {
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	byID, err := r.loadOrdersByIDs(ctx, ids)
	if isUndefinedColumn(err) {
		r.noteColumnMissing.Store(true)
		byID, err = r.loadOrdersByIDs(ctx, ids)
	}
	if err != nil {
		return nil, err
	}

	itemsByOrder, err := r.loadItemsBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(ids))
	result := make([]domain.Order, 0, len(byID))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		order, ok := byID[id]
		if !ok {
			continue
		}
		order.Items = itemsByOrder[id]
		if order.Items == nil {
			order.Items = []domain.OrderItem{}
		}
		result = append(result, order)
	}

	return result, nil
}

// CompletePayment условно переводит pending-заказ в completed/paid одним
// UPDATE. Ноль затронутых строк разбирается на "не найден" и "терминальный
// статус"; в обоих конфликтных случаях возвращается текущее состояние.
func (r *orderRepository) CompletePayment(id string, completion domain.PaymentCompletion) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	completedAt := completion.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_status = $3,
		    payment_method = $4,
		    transaction_id = $5,
		    updated_at = $6
		WHERE id = $1
		  AND status = $7
	`,
		id,
		string(domain.OrderStatusCompleted),
		string(domain.PaymentStatusPaid),
		completion.Method,
		completion.TransactionID,
		completedAt,
		string(domain.OrderStatusPending),
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("complete payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.conflictState(id)
	}

	return r.Get(id)
}

// TransitionStatus условно переводит pending-заказ в cancelled или failed.
func (r *orderRepository) TransitionStatus(id string, next domain.OrderStatus) (domain.Order, error) {
	if !domain.OrderStatusPending.CanTransitionTo(next) {
		return r.conflictState(id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
	`,
		id, string(next), time.Now().UTC(), string(domain.OrderStatusPending),
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("transition order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.conflictState(id)
	}

	return r.Get(id)
}

// UpdateNotes записывает metadata вместе с проекцией payment_note.
func (r *orderRepository) UpdateNotes(id string, md domain.OrderMetadata, projected string) error {
	if r.noteColumnMissing.Load() {
		return domain.ErrPaymentNoteColumnMissing
	}

	metadata, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode order metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET metadata = $2,
		    payment_note = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, metadata, projected, time.Now().UTC())
	if err != nil {
		if isUndefinedColumn(err) {
			r.noteColumnMissing.Store(true)
			return domain.ErrPaymentNoteColumnMissing
		}
		return fmt.Errorf("update order notes: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// UpdateNotesMetadataOnly — fallback-запись metadata для схем без payment_note.
func (r *orderRepository) UpdateNotesMetadataOnly(id string, md domain.OrderMetadata) error {
	metadata, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode order metadata: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET metadata = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, metadata, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order metadata: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// SetExpectedCompletion назначает дату готовности одной батч-записью.
func (r *orderRepository) SetExpectedCompletion(ids []string, date time.Time) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		UPDATE orders
		SET expected_completion_date = $2,
		    updated_at = $3
		WHERE id = ANY($1)
		RETURNING id
	`, ids, date, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("set expected completion: %w", err)
	}
	defer rows.Close()

	touched := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan updated order id: %w", err)
		}
		touched[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updated order ids: %w", err)
	}

	// Результат следует порядку входных идентификаторов.
	seen := make(map[string]bool, len(ids))
	updated := make([]string, 0, len(touched))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if touched[id] {
			updated = append(updated, id)
		}
	}

	return updated, nil
}

// conflictState возвращает текущее состояние заказа вместе с ошибкой,
// объясняющей, почему условная запись не прошла.
func (r *orderRepository) conflictState(id string) (domain.Order, error) {
	current, err := r.Get(id)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status == domain.OrderStatusCompleted {
		return current, domain.ErrOrderAlreadyCompleted
	}
	return current, domain.ErrOrderNotPending
}

// noteSelectExpr подставляет выражение проекции payment_note в зависимости
// от режима схемы; в fallback-режиме позиция колонки заполняется пустой
// строкой, и код сканирования остаётся одним.
func (r *orderRepository) noteSelectExpr() string {
	if r.noteColumnMissing.Load() {
		return "''"
	}
	return "COALESCE(payment_note, '')"
}

func (r *orderRepository) orderQuery(where string) string {
	return fmt.Sprintf(`
		SELECT id, customer_id, status, payment_status, payment_method, transaction_id,
		       currency, amount_minor, expected_completion_date, metadata, %s,
		       created_at, updated_at
		FROM orders
		%s
	`, r.noteSelectExpr(), where)
}

func (r *orderRepository) getOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, r.orderQuery("WHERE id = $1"), id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) loadOrdersByIDs(ctx context.Context, ids []string) (map[string]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, r.orderQuery("WHERE id = ANY($1)"), ids)
	if err != nil {
		return nil, fmt.Errorf("select orders batch: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Order, len(ids))
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		byID[order.ID] = order
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return byID, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, title, sales_type, price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *orderRepository) loadItemsBatch(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, title, sales_type, price_minor, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, created_at ASC, id ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items batch: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[string][]domain.OrderItem)
	for rows.Next() {
		var (
			orderID   string
			item      domain.OrderItem
			salesType string
		)
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.Title, &salesType, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.SalesType = domain.SalesType(salesType)
		byOrder[orderID] = append(byOrder[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items batch: %w", err)
	}

	return byOrder, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		expectedDate  sql.NullTime
		metadataRaw   []byte
	)

	if err := row.Scan(
		&order.ID, &order.CustomerID, &status, &paymentStatus, &order.PaymentMethod,
		&order.TransactionID, &order.Currency, &order.AmountMinor,
		&expectedDate, &metadataRaw, &order.PaymentNote,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if expectedDate.Valid {
		d := expectedDate.Time.UTC()
		order.ExpectedCompletionDate = &d
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &order.Metadata); err != nil {
			return domain.Order{}, fmt.Errorf("decode order metadata: %w", err)
		}
	}

	return order, nil
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item      domain.OrderItem
		salesType string
	)
	if err := row.Scan(&item.ID, &item.ProductID, &item.Title, &salesType, &item.PriceMinor, &item.CreatedAt); err != nil {
		return domain.OrderItem{}, fmt.Errorf("scan order item: %w", err)
	}
	item.SalesType = domain.SalesType(salesType)
	return item, nil
}

// isUniqueViolation распознаёт SQLSTATE 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isUndefinedColumn распознаёт SQLSTATE 42703 (undefined_column).
func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42703"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
