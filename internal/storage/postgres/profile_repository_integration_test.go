package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/partitura-music/payments/internal/domain"
)

func TestProfileRepository_PostgresCreateGetDebitCredit(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProfileRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	profile := domain.Profile{
		ID:           "customer-1",
		CreditsMinor: 5000,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := repo.Create(profile); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	got, err := repo.Get("customer-1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.ID != "customer-1" || got.CreditsMinor != 5000 {
		t.Fatalf("unexpected profile: %+v", got)
	}

	remaining, err := repo.Debit("customer-1", 1499)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if remaining != 3501 {
		t.Fatalf("unexpected remaining after debit: %d", remaining)
	}

	balance, err := repo.Credit("customer-1", 499)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance != 4000 {
		t.Fatalf("unexpected balance after credit: %d", balance)
	}
}

func TestProfileRepository_PostgresInsufficientFunds(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProfileRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	if err := repo.Create(domain.Profile{ID: "customer-poor", CreditsMinor: 100, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	current, err := repo.Debit("customer-poor", 2500)
	if _, ok := domain.IsInsufficientCredits(err); !ok {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if current != 100 {
		t.Fatalf("unexpected current balance in error path: %d", current)
	}

	var insufficient *domain.InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected typed error, got %T", err)
	}
	if insufficient.Current != 100 || insufficient.Required != 2500 {
		t.Fatalf("unexpected error payload: %+v", insufficient)
	}

	// Баланс не изменился.
	got, err := repo.Get("customer-poor")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.CreditsMinor != 100 {
		t.Fatalf("failed debit must not mutate balance: %d", got.CreditsMinor)
	}
}

func TestProfileRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProfileRepository(store)

	if _, err := repo.Get("missing-customer"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound on get, got %v", err)
	}
	if _, err := repo.Debit("missing-customer", 100); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound on debit, got %v", err)
	}
	if _, err := repo.Credit("missing-customer", 100); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound on credit, got %v", err)
	}

	now := time.Now().UTC().Round(time.Microsecond)
	profile := domain.Profile{ID: "customer-dup", CreditsMinor: 0, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(profile); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := repo.Create(profile); !errors.Is(err, domain.ErrProfileAlreadyExists) {
		t.Fatalf("expected ErrProfileAlreadyExists, got %v", err)
	}
}
