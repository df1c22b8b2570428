package domain

import "time"

// Profile — профиль покупателя с балансом кредитов. Баланс меняется только
// шагами reconciliation (списание и компенсация) и пополнением; UI напрямую
// его не трогает.
type Profile struct {
	ID string
	// CreditsMinor — неотрицательный баланс кредитов в минимальных единицах.
	CreditsMinor int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate проверяет корректность полей профиля.
func (p *Profile) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProfileIDRequired)
	}
	if p.CreditsMinor < 0 {
		errs = append(errs, ErrCreditsNegative)
	}

	return errs
}
