package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/partitura-music/payments/internal/domain"
)

// profileRepository — PostgreSQL-реализация ProfileRepository.
//
// Debit выполняется одним условным UPDATE с предикатом по остатку, поэтому
// конкурентные списания не уводят баланс в минус: проигравший запрос видит
// ноль затронутых строк и получает InsufficientCreditsError с актуальным
// остатком.
type profileRepository struct {
	db *sql.DB
}

// NewProfileRepository создаёт PostgreSQL-реализацию ProfileRepository.
func NewProfileRepository(store *Store) *profileRepository {
	return &profileRepository{db: store.DB()}
}

func (r *profileRepository) Create(profile domain.Profile) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, credits_minor, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, profile.ID, profile.CreditsMinor, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProfileAlreadyExists
		}
		return fmt.Errorf("insert profile: %w", err)
	}

	return nil
}

func (r *profileRepository) Get(id string) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var profile domain.Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, credits_minor, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, id).Scan(&profile.ID, &profile.CreditsMinor, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Profile{}, domain.ErrProfileNotFound
		}
		return domain.Profile{}, fmt.Errorf("select profile: %w", err)
	}

	return profile, nil
}

func (r *profileRepository) Debit(id string, amount int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var remaining int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET credits_minor = credits_minor - $2,
		    updated_at = $3
		WHERE id = $1
		  AND credits_minor >= $2
		RETURNING credits_minor
	`, id, amount, time.Now().UTC()).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("debit profile: %w", err)
	}

	// Условие не прошло: либо профиля нет, либо средств не хватает.
	current, getErr := r.Get(id)
	if getErr != nil {
		return 0, getErr
	}

	return current.CreditsMinor, &domain.InsufficientCreditsError{
		Current:  current.CreditsMinor,
		Required: amount,
	}
}

func (r *profileRepository) Credit(id string, amount int64) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var balance int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET credits_minor = credits_minor + $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING credits_minor
	`, id, amount, time.Now().UTC()).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProfileNotFound
		}
		return 0, fmt.Errorf("credit profile: %w", err)
	}

	return balance, nil
}

var _ domain.ProfileRepository = (*profileRepository)(nil)
