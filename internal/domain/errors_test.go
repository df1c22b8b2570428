package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "order not found",
			err:  ErrOrderNotFound,
			want: true,
		},
		{
			name: "profile not found",
			err:  ErrProfileNotFound,
			want: true,
		},
		{
			name: "wrapped order not found",
			err:  fmt.Errorf("load order: %w", ErrOrderNotFound),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotPending,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsNotFound(tt.err)
			if got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsInsufficientCredits(t *testing.T) {
	base := &InsufficientCreditsError{Current: 50, Required: 100}

	details, ok := IsInsufficientCredits(fmt.Errorf("debit profile: %w", base))
	if !ok {
		t.Fatal("wrapped insufficient credits error not recognized")
	}
	if details.Current != 50 || details.Required != 100 {
		t.Fatalf("details = %+v, want current=50 required=100", details)
	}

	if _, ok := IsInsufficientCredits(ErrProfileNotFound); ok {
		t.Fatal("unrelated error must not match")
	}
	if _, ok := IsInsufficientCredits(nil); ok {
		t.Fatal("nil error must not match")
	}
}

func TestIsMissingFields(t *testing.T) {
	base := &MissingFieldsError{Provider: "paypal", Fields: []string{"id", "status"}}

	details, ok := IsMissingFields(fmt.Errorf("normalize: %w", base))
	if !ok {
		t.Fatal("wrapped missing fields error not recognized")
	}
	if details.Provider != "paypal" || len(details.Fields) != 2 {
		t.Fatalf("details = %+v", details)
	}

	if _, ok := IsMissingFields(ErrOutcomeKindInvalid); ok {
		t.Fatal("unrelated error must not match")
	}
}

func TestIsTerminalConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "already completed",
			err:  ErrOrderAlreadyCompleted,
			want: true,
		},
		{
			name: "not pending",
			err:  ErrOrderNotPending,
			want: true,
		},
		{
			name: "wrapped conflict",
			err:  errors.Join(ErrOrderNotPending, errors.New("additional context")),
			want: true,
		},
		{
			name: "not found is not a conflict",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsTerminalConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsTerminalConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrOrderAlreadyCompleted,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
