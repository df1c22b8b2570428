package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/messaging/kafka"
)

// createOrderRequest — запрос на приём заказа от витрины. orderId опционален:
// витрина может прислать свой идентификатор, иначе он генерируется.
type createOrderRequest struct {
	OrderID    string                   `json:"orderId,omitempty"`
	CustomerID string                   `json:"customerId"`
	Currency   string                   `json:"currency"`
	Items      []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	ProductID  string `json:"productId"`
	Title      string `json:"title"`
	SalesType  string `json:"salesType,omitempty"`
	PriceMinor int64  `json:"priceMinor"`
}

type appendNoteRequest struct {
	OrderID  string `json:"orderId"`
	Note     string `json:"note"`
	NoteType string `json:"noteType,omitempty"`
}

type appendNoteResponse struct {
	Success bool `json:"success"`
}

type bulkCompletionRequest struct {
	OrderIDs               []string `json:"orderIds"`
	ExpectedCompletionDate string   `json:"expected_completion_date"`
}

type bulkCompletionResponse struct {
	Success         bool     `json:"success"`
	UpdatedCount    int      `json:"updatedCount"`
	SkippedCount    int      `json:"skippedCount"`
	UpdatedOrderIDs []string `json:"updatedOrderIds"`
	SkippedOrderIDs []string `json:"skippedOrderIds"`
}

// orderActionRequest — общий запрос авторитетных переходов cancel и fail.
type orderActionRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Service) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	order, err := buildOrder(req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.orders.Create(order); err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.orders.Get(order.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"customer_id":  created.CustomerID,
		"amount_minor": created.AmountMinor,
		"items":        len(created.Items),
	}).Info("order created")
	writeJSON(w, http.StatusCreated, orderResponse{Success: true, Order: toOrderPayload(created)})
}

// buildOrder собирает pending-заказ из запроса витрины. Сумма заказа считается
// по позициям; пустой salesType трактуется как DIGITAL.
func buildOrder(req createOrderRequest) (domain.Order, error) {
	now := time.Now().UTC()
	order := domain.Order{
		ID:            strings.TrimSpace(req.OrderID),
		CustomerID:    strings.TrimSpace(req.CustomerID),
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Metadata:      domain.OrderMetadata{SchemaVersion: domain.MetadataSchemaVersion},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	for _, item := range req.Items {
		salesType := domain.SalesType(strings.ToUpper(strings.TrimSpace(item.SalesType)))
		if salesType == "" {
			salesType = domain.SalesTypeDigital
		}
		if !salesType.Valid() {
			return domain.Order{}, domain.ErrItemSalesTypeInvalid
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  strings.TrimSpace(item.ProductID),
			Title:      item.Title,
			SalesType:  salesType,
			PriceMinor: item.PriceMinor,
			CreatedAt:  now,
		})
		order.AmountMinor += item.PriceMinor
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}
	return order, nil
}

func (s *Service) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: toOrderPayload(order)})
}

func (s *Service) handleAppendNote(w http.ResponseWriter, r *http.Request) {
	var req appendNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	if err := s.notes.Append(req.OrderID, domain.NoteType(req.NoteType), req.Note); err != nil {
		s.writeError(w, err)
		return
	}

	s.emitOrderEvent(req.OrderID, kafka.EventTypeNoteAppended, map[string]interface{}{
		"note_type": string(domain.NormalizeNoteType(req.NoteType)),
	})

	writeJSON(w, http.StatusOK, appendNoteResponse{Success: true})
}

func (s *Service) handleBulkSetExpectedCompletion(w http.ResponseWriter, r *http.Request) {
	var req bulkCompletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	report, err := s.scheduler.BulkSetExpectedCompletion(req.OrderIDs, req.ExpectedCompletionDate)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := bulkCompletionResponse{
		Success:         true,
		UpdatedCount:    report.UpdatedCount,
		SkippedCount:    report.SkippedCount,
		UpdatedOrderIDs: report.UpdatedOrderIDs,
		SkippedOrderIDs: report.SkippedOrderIDs,
	}
	// Пустые множества сериализуются как [], не как null.
	if resp.UpdatedOrderIDs == nil {
		resp.UpdatedOrderIDs = []string{}
	}
	if resp.SkippedOrderIDs == nil {
		resp.SkippedOrderIDs = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req orderActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	order, err := s.reconciler.CancelOrder(req.OrderID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: toOrderPayload(order)})
}

func (s *Service) handleFailOrder(w http.ResponseWriter, r *http.Request) {
	var req orderActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}

	order, err := s.reconciler.FailOrder(req.OrderID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: toOrderPayload(order)})
}

// emitOrderEvent кладёт событие заказа в transactional outbox. Best-effort:
// отказ outbox логируется и не влияет на ответ клиенту.
func (s *Service) emitOrderEvent(orderID string, eventType kafka.EventType, payload map[string]interface{}) {
	if s.outbox == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = orderID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       data,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
	}
}
