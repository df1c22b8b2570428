package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/messaging/kafka"
)

// initiatePaymentRequest — запрос на инициацию платежа у внешнего провайдера.
// provider опционален: пустое значение означает провайдера по умолчанию.
type initiatePaymentRequest struct {
	OrderID      string `json:"orderId"`
	Provider     string `json:"provider,omitempty"`
	PayerContact string `json:"payerContact,omitempty"`
}

type initiatePaymentResponse struct {
	Success     bool   `json:"success"`
	PaymentID   string `json:"paymentId"`
	RedirectURL string `json:"redirectUrl"`
}

type reconcileCreditsRequest struct {
	UserID  string `json:"userId"`
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
}

// reconcileCreditsResponse — итог кредитной reconciliation. applied=false
// означает идемпотентный no-op по уже завершённому заказу.
type reconcileCreditsResponse struct {
	Success          bool          `json:"success"`
	Order            *orderPayload `json:"order"`
	RemainingCredits int64         `json:"remainingCredits"`
	Applied          bool          `json:"applied"`
}

type verifyProviderPaymentRequest struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Provider  string `json:"provider,omitempty"`
}

func (s *Service) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		s.writeError(w, domain.ErrOrderIDRequired)
		return
	}

	order, err := s.orders.Get(req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if order.Status != domain.OrderStatusPending {
		if order.Status == domain.OrderStatusCompleted {
			s.writeError(w, domain.ErrOrderAlreadyCompleted)
		} else {
			s.writeError(w, domain.ErrOrderNotPending)
		}
		return
	}

	adapter, err := s.providers.Lookup(req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := adapter.Initiate(domain.InitiateRequest{
		OrderID:      order.ID,
		AmountMinor:  order.AmountMinor,
		Currency:     order.Currency,
		OrderName:    orderDisplayName(order),
		PayerContact: strings.TrimSpace(req.PayerContact),
	})
	if err != nil {
		s.writeError(w, providerFailure(adapter.Name(), err))
		return
	}

	s.recordInitiation(order, adapter.Name(), result.PaymentID)
	s.emitOrderEvent(order.ID, kafka.EventTypePaymentInitiated, map[string]interface{}{
		"provider":   adapter.Name(),
		"payment_id": result.PaymentID,
	})

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"provider":   adapter.Name(),
		"payment_id": result.PaymentID,
	}).Info("payment initiated")
	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		Success:     true,
		PaymentID:   result.PaymentID,
		RedirectURL: result.RedirectURL,
	})
}

func (s *Service) handleReconcileCredits(w http.ResponseWriter, r *http.Request) {
	var req reconcileCreditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	result, err := s.reconciler.ReconcileCredits(req.UserID, req.OrderID, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reconcileCreditsResponse{
		Success:          true,
		Order:            toOrderPayload(result.Order),
		RemainingCredits: result.RemainingCredits,
		Applied:          result.Applied,
	})
}

func (s *Service) handleVerifyProviderPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyProviderPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		s.writeError(w, domain.ErrPaymentIDRequired)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		s.writeError(w, domain.ErrOrderIDRequired)
		return
	}

	adapter, err := s.providers.Lookup(req.Provider)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Исход запрашивается у провайдера заново: данным клиента о статусе
	// платежа сервис не доверяет.
	raw, err := adapter.Verify(req.PaymentID)
	if err != nil {
		s.writeError(w, providerFailure(adapter.Name(), err))
		return
	}

	outcome, err := adapter.Normalize(raw)
	if err != nil {
		s.writeError(w, err)
		return
	}

	order, err := s.reconciler.ReconcileProvider(req.OrderID, outcome)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: toOrderPayload(order)})
}

// providerFailure приводит ошибку адаптера к provider_error, сохраняя доменные
// ошибки валидации как есть.
func providerFailure(name string, err error) error {
	if isValidationError(err) || errors.Is(err, domain.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("provider %s: %v: %w", name, err, domain.ErrProviderUnavailable)
}

// recordInitiation пишет запись журнала об инициации платежа. Best-effort:
// отказ журнала логируется и не прерывает инициацию.
func (s *Service) recordInitiation(order domain.Order, providerName, paymentID string) {
	if s.transactions == nil {
		return
	}
	record := domain.TransactionRecord{
		OrderID:     order.ID,
		Kind:        domain.TransactionKindInitiation,
		AmountMinor: order.AmountMinor,
		Method:      providerName,
		ProviderRef: paymentID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.transactions.Append(record); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("transaction log append failed")
	}
}

// orderDisplayName собирает человекочитаемое название заказа для платёжной
// страницы провайдера.
func orderDisplayName(order domain.Order) string {
	if len(order.Items) == 0 {
		return "Order " + order.ID
	}
	name := order.Items[0].Title
	if len(order.Items) > 1 {
		name = fmt.Sprintf("%s and %d more", name, len(order.Items)-1)
	}
	return name
}
