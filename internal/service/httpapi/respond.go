package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/partitura-music/payments/internal/domain"
)

// Машиночитаемые коды единого конверта ошибки.
const (
	codeNotFound            = "not_found"
	codeInvalidArgument     = "invalid_argument"
	codeInsufficientFunds   = "insufficient_funds"
	codeConflict            = "conflict"
	codeStoreWriteFailure   = "store_write_failure"
	codeProviderError       = "provider_error"
	codeIdempotencyConflict = "idempotency_conflict"
	codeIdempotencyInFlight = "idempotency_in_flight"
)

// maxRequestBodyBytes ограничивает размер тела запроса.
const maxRequestBodyBytes = 1 << 20

// errorResponse — единый конверт ошибки API. Для insufficient_funds заполняются
// current и required, для store_write_failure — hint с деталями сбоя.
type errorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Current  *int64 `json:"current,omitempty"`
	Required *int64 `json:"required,omitempty"`
}

// itemPayload — позиция заказа в ответе API.
type itemPayload struct {
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	Title      string `json:"title"`
	SalesType  string `json:"salesType"`
	PriceMinor int64  `json:"priceMinor"`
}

// notePayload — заметка платёжного журнала в ответе API.
type notePayload struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// orderPayload — заказ в ответе API. expectedCompletionDate отдаётся строкой
// YYYY-MM-DD, paymentNote — проекция последней заметки журнала.
type orderPayload struct {
	ID                     string        `json:"id"`
	CustomerID             string        `json:"customerId"`
	Status                 string        `json:"status"`
	PaymentStatus          string        `json:"paymentStatus"`
	PaymentMethod          string        `json:"paymentMethod,omitempty"`
	TransactionID          string        `json:"transactionId,omitempty"`
	Currency               string        `json:"currency"`
	AmountMinor            int64         `json:"amountMinor"`
	ExpectedCompletionDate string        `json:"expectedCompletionDate,omitempty"`
	PaymentNote            string        `json:"paymentNote,omitempty"`
	PaymentNotes           []notePayload `json:"paymentNotes,omitempty"`
	Items                  []itemPayload `json:"items"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}

// orderResponse — успешный ответ с одним заказом.
type orderResponse struct {
	Success bool          `json:"success"`
	Order   *orderPayload `json:"order"`
}

func toOrderPayload(order domain.Order) *orderPayload {
	payload := &orderPayload{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: order.PaymentMethod,
		TransactionID: order.TransactionID,
		Currency:      order.Currency,
		AmountMinor:   order.AmountMinor,
		PaymentNote:   order.PaymentNote,
		Items:         make([]itemPayload, 0, len(order.Items)),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.ExpectedCompletionDate != nil {
		payload.ExpectedCompletionDate = order.ExpectedCompletionDate.Format(domain.CompletionDateLayout)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, itemPayload{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Title:      item.Title,
			SalesType:  string(item.SalesType),
			PriceMinor: item.PriceMinor,
		})
	}
	for _, note := range order.Metadata.PaymentNotes {
		payload.PaymentNotes = append(payload.PaymentNotes, notePayload{
			Type:      string(note.Type),
			Message:   note.Message,
			Timestamp: note.Timestamp,
		})
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeInvalidBody(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error: "invalid request body",
		Code:  codeInvalidArgument,
		Hint:  err.Error(),
	})
}

// writeError переводит доменную ошибку в HTTP-ответ. Ошибки хранилища
// логируются здесь, чтобы обработчики не дублировали это на каждом выходе.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, payload)
}

// mapError отображает доменную ошибку в статус и конверт. Неопознанные ошибки
// считаются сбоем хранилища: текст попадает в hint, а не в error.
func mapError(err error) (int, errorResponse) {
	if details, ok := domain.IsInsufficientCredits(err); ok {
		current, required := details.Current, details.Required
		return http.StatusPaymentRequired, errorResponse{
			Error:    details.Error(),
			Code:     codeInsufficientFunds,
			Current:  &current,
			Required: &required,
		}
	}
	if _, ok := domain.IsMissingFields(err); ok {
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidArgument}
	}

	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, errorResponse{Error: notFoundText(err), Code: codeNotFound}
	case isValidationError(err):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidArgument}
	case domain.IsTerminalConflict(err),
		errors.Is(err, domain.ErrOrderAlreadyExists),
		errors.Is(err, domain.ErrProfileAlreadyExists),
		errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: codeConflict}
	case errors.Is(err, domain.ErrProviderNotConfigured):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: codeInvalidArgument}
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway, errorResponse{Error: err.Error(), Code: codeProviderError}
	}

	return http.StatusInternalServerError, errorResponse{
		Error: "storage write failed",
		Code:  codeStoreWriteFailure,
		Hint:  err.Error(),
	}
}

func notFoundText(err error) string {
	if errors.Is(err, domain.ErrProfileNotFound) {
		return domain.ErrProfileNotFound.Error()
	}
	return domain.ErrOrderNotFound.Error()
}

// isValidationError относит ошибку к нарушениям контракта запроса.
func isValidationError(err error) bool {
	for _, sentinel := range []error{
		domain.ErrOrderIDRequired,
		domain.ErrCustomerRequired,
		domain.ErrCurrencyRequired,
		domain.ErrItemsRequired,
		domain.ErrAmountNegative,
		domain.ErrItemProductRequired,
		domain.ErrItemPriceInvalid,
		domain.ErrItemSalesTypeInvalid,
		domain.ErrItemsTotalMismatch,
		domain.ErrCompletionDateNotApplicable,
		domain.ErrInvalidCompletionDate,
		domain.ErrNoteMessageRequired,
		domain.ErrProfileIDRequired,
		domain.ErrCreditsNegative,
		domain.ErrTopUpAmountInvalid,
		domain.ErrPaymentAmountNegative,
		domain.ErrPaymentIDRequired,
		domain.ErrOutcomeProviderRequired,
		domain.ErrOutcomeKindInvalid,
		domain.ErrOutcomeRefRequired,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
