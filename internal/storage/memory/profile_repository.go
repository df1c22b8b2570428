package memory

import (
	"sync"
	"time"

	"github.com/partitura-music/payments/internal/domain"
)

// profileRepositoryInMemory — in-memory реализация ProfileRepository.
type profileRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Profile
}

// NewProfileRepository возвращает in-memory репозиторий профилей.
func NewProfileRepository() *profileRepositoryInMemory {
	return &profileRepositoryInMemory{
		items: make(map[string]domain.Profile),
	}
}

// Create сохраняет новый профиль, если ID ещё не занят.
func (r *profileRepositoryInMemory) Create(profile domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[profile.ID]; exists {
		return domain.ErrProfileAlreadyExists
	}
	r.items[profile.ID] = profile
	return nil
}

// Get возвращает профиль или ErrProfileNotFound.
func (r *profileRepositoryInMemory) Get(id string) (domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.items[id]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return profile, nil
}

// Debit списывает amount, только если баланса достаточно. Проверка и запись
// выполняются под одним замком, параллельные списания не уводят баланс в минус.
func (r *profileRepositoryInMemory) Debit(id string, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.items[id]
	if !ok {
		return 0, domain.ErrProfileNotFound
	}
	if profile.CreditsMinor < amount {
		return profile.CreditsMinor, &domain.InsufficientCreditsError{
			Current:  profile.CreditsMinor,
			Required: amount,
		}
	}

	profile.CreditsMinor -= amount
	profile.UpdatedAt = time.Now().UTC()
	r.items[id] = profile

	return profile.CreditsMinor, nil
}

// Credit начисляет amount (компенсация списания или пополнение).
func (r *profileRepositoryInMemory) Credit(id string, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.items[id]
	if !ok {
		return 0, domain.ErrProfileNotFound
	}

	profile.CreditsMinor += amount
	profile.UpdatedAt = time.Now().UTC()
	r.items[id] = profile

	return profile.CreditsMinor, nil
}

var _ domain.ProfileRepository = (*profileRepositoryInMemory)(nil)
