package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/partitura-music/payments/internal/domain"
)

func TestTransactionLogRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	repo := NewTransactionLogRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	if err := orders.Create(sampleOrder("order-log", "customer-1", now)); err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Записи добавляются не по порядку; чтение сортирует по времени.
	completion := domain.TransactionRecord{
		ID:          "rec-completion",
		OrderID:     "order-log",
		Kind:        domain.TransactionKindCompletion,
		AmountMinor: 1499,
		Method:      domain.PaymentMethodCredits,
		ProviderRef: "txn-1",
		CreatedAt:   now.Add(2 * time.Second),
	}
	debit := domain.TransactionRecord{
		ID:          "rec-debit",
		OrderID:     "order-log",
		Kind:        domain.TransactionKindDebit,
		AmountMinor: 1499,
		Method:      domain.PaymentMethodCredits,
		CreatedAt:   now.Add(time.Second),
	}

	if err := repo.Append(completion); err != nil {
		t.Fatalf("append completion: %v", err)
	}
	if err := repo.Append(debit); err != nil {
		t.Fatalf("append debit: %v", err)
	}

	records, err := repo.ListByOrder("order-log")
	if err != nil {
		t.Fatalf("list by order: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != domain.TransactionKindDebit || records[1].Kind != domain.TransactionKindCompletion {
		t.Fatalf("unexpected record order: %s, %s", records[0].Kind, records[1].Kind)
	}
	if records[1].ProviderRef != "txn-1" {
		t.Fatalf("unexpected provider ref: %q", records[1].ProviderRef)
	}

	empty, err := repo.ListByOrder("order-without-log")
	if err != nil {
		t.Fatalf("list for order without records: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty log, got %+v", empty)
	}
}

func TestTransactionLogRepository_PostgresDefaults(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	repo := NewTransactionLogRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	if err := orders.Create(sampleOrder("order-defaults", "customer-1", now)); err != nil {
		t.Fatalf("create order: %v", err)
	}

	before := time.Now().UTC()
	if err := repo.Append(domain.TransactionRecord{
		OrderID:     "order-defaults",
		Kind:        domain.TransactionKindInitiation,
		AmountMinor: 1499,
	}); err != nil {
		t.Fatalf("append with defaults: %v", err)
	}

	records, err := repo.ListByOrder("order-defaults")
	if err != nil {
		t.Fatalf("list by order: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID == "" {
		t.Fatal("record ID must be generated")
	}
	if records[0].CreatedAt.Before(before.Add(-time.Second)) {
		t.Fatalf("created_at must default to now, got %v", records[0].CreatedAt)
	}
}

func TestTransactionLogRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTransactionLogRepository(store)

	err := repo.Append(domain.TransactionRecord{Kind: domain.TransactionKindDebit, AmountMinor: 100})
	if !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}

	// Журнал привязан к заказу внешним ключом.
	err = repo.Append(domain.TransactionRecord{
		OrderID:     "missing-order",
		Kind:        domain.TransactionKindDebit,
		AmountMinor: 100,
	})
	if err == nil {
		t.Fatal("expected foreign key error for missing order")
	}
}
