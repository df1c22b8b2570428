package provider

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/partitura-music/payments/internal/domain"
)

const (
	sandboxName = "sandbox"

	// Префиксы платёжных идентификаторов песочницы. Префикс детерминированно
	// задаёт исход Verify, что позволяет прогонять любой сценарий без
	// внешнего провайдера.
	SandboxPrefixPaid      = "SB-PAID"
	SandboxPrefixCancelled = "SB-CANCEL"
	SandboxPrefixFailed    = "SB-FAIL"
)

type sandboxPayment struct {
	orderID     string
	amountMinor int64
	currency    string
}

// Sandbox — детерминированный in-process адаптер для разработки и тестов.
// Настраивается через экспортируемые поля и считает вызовы.
type Sandbox struct {
	// InitiateOutcome задаёт исход платежей, созданных через Initiate.
	// По умолчанию paid.
	InitiateOutcome domain.OutcomeKind
	InitiateErr     error
	VerifyErr       error

	InitiateCalls int
	VerifyCalls   int

	mu       sync.Mutex
	payments map[string]sandboxPayment
}

// NewSandbox возвращает песочницу с успешным сценарием по умолчанию.
func NewSandbox() *Sandbox {
	return &Sandbox{
		InitiateOutcome: domain.OutcomeKindPaid,
		payments:        make(map[string]sandboxPayment),
	}
}

// Name возвращает имя адаптера в реестре.
func (s *Sandbox) Name() string { return sandboxName }

// Initiate регистрирует платёж в песочнице и возвращает локальную
// redirect-ссылку. Префикс идентификатора выбирается по InitiateOutcome.
func (s *Sandbox) Initiate(req domain.InitiateRequest) (domain.InitiateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.InitiateCalls++
	if s.InitiateErr != nil {
		return domain.InitiateResult{}, s.InitiateErr
	}
	if req.OrderID == "" {
		return domain.InitiateResult{}, domain.ErrOrderIDRequired
	}
	if req.AmountMinor <= 0 {
		return domain.InitiateResult{}, domain.ErrPaymentAmountNegative
	}

	prefix := SandboxPrefixPaid
	switch s.InitiateOutcome {
	case domain.OutcomeKindCancelled:
		prefix = SandboxPrefixCancelled
	case domain.OutcomeKindFailed:
		prefix = SandboxPrefixFailed
	}

	paymentID := prefix + "-" + uuid.NewString()
	if s.payments == nil {
		s.payments = make(map[string]sandboxPayment)
	}
	s.payments[paymentID] = sandboxPayment{
		orderID:     req.OrderID,
		amountMinor: req.AmountMinor,
		currency:    req.Currency,
	}

	return domain.InitiateResult{
		PaymentID:   paymentID,
		RedirectURL: "https://sandbox.partitura.local/checkout/" + paymentID,
	}, nil
}

// Verify возвращает детерминированный payload: статус выбирается по префиксу
// идентификатора, сумма — из данных Initiate, если платёж известен.
func (s *Sandbox) Verify(paymentID string) (domain.RawOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.VerifyCalls++
	if s.VerifyErr != nil {
		return nil, s.VerifyErr
	}
	if paymentID == "" {
		return nil, fmt.Errorf("sandbox verify: %w", domain.ErrOutcomeRefRequired)
	}

	raw := domain.RawOutcome{
		"id":     paymentID,
		"status": statusForPaymentID(paymentID),
	}
	if payment, ok := s.payments[paymentID]; ok {
		raw["order_id"] = payment.orderID
		raw["amount"] = map[string]any{
			"currency_code": payment.currency,
			"value":         minorToDecimal(payment.amountMinor),
		}
	}
	return raw, nil
}

// Normalize отображает payload песочницы в канонический исход.
func (s *Sandbox) Normalize(raw domain.RawOutcome) (domain.CanonicalOutcome, error) {
	var missing []string

	id, _ := raw["id"].(string)
	if id == "" {
		missing = append(missing, "id")
	}
	status, _ := raw["status"].(string)
	if status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return domain.CanonicalOutcome{}, &domain.MissingFieldsError{Provider: sandboxName, Fields: missing}
	}

	outcome := domain.CanonicalOutcome{
		Provider:       sandboxName,
		TransactionRef: id,
	}

	switch strings.ToUpper(status) {
	case "COMPLETED":
		outcome.Kind = domain.OutcomeKindPaid
	case "VOIDED":
		outcome.Kind = domain.OutcomeKindCancelled
		outcome.Reason = "cancelled in sandbox"
	case "DECLINED":
		outcome.Kind = domain.OutcomeKindFailed
		outcome.Reason = "declined in sandbox"
	default:
		return domain.CanonicalOutcome{}, fmt.Errorf("sandbox status %q: %w", status, domain.ErrOutcomeKindInvalid)
	}

	if amount, ok := raw["amount"].(map[string]any); ok {
		if minor, ok := amountValueMinor(amount); ok {
			outcome.AmountMinor = &minor
		}
	}

	return outcome, nil
}

// statusForPaymentID детерминированно выбирает статус по префиксу идентификатора.
func statusForPaymentID(paymentID string) string {
	switch {
	case strings.HasPrefix(paymentID, SandboxPrefixCancelled):
		return "VOIDED"
	case strings.HasPrefix(paymentID, SandboxPrefixFailed):
		return "DECLINED"
	default:
		return "COMPLETED"
	}
}

var _ domain.PaymentProvider = (*Sandbox)(nil)
