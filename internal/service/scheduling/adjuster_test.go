package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/storage/memory"
)

// countingOrderRepo считает обращения к хранилищу, чтобы проверить порядок
// "валидация до чтений".
type countingOrderRepo struct {
	domain.OrderRepository
	mu       sync.Mutex
	listCnt  int
	writeCnt int
}

func (r *countingOrderRepo) ListByIDs(ids []string) ([]domain.Order, error) {
	r.mu.Lock()
	r.listCnt++
	r.mu.Unlock()
	return r.OrderRepository.ListByIDs(ids)
}

func (r *countingOrderRepo) SetExpectedCompletion(ids []string, date time.Time) ([]string, error) {
	r.mu.Lock()
	r.writeCnt++
	r.mu.Unlock()
	return r.OrderRepository.SetExpectedCompletion(ids, date)
}

func (r *countingOrderRepo) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCnt, r.writeCnt
}

func seedOrderWithItems(t *testing.T, repo domain.OrderRepository, id string, salesTypes ...domain.SalesType) {
	t.Helper()

	now := time.Now().UTC()
	items := make([]domain.OrderItem, 0, len(salesTypes))
	for i, st := range salesTypes {
		items = append(items, domain.OrderItem{
			ID:         fmt.Sprintf("%s-item-%d", id, i+1),
			ProductID:  fmt.Sprintf("score-%s-%d", id, i+1),
			Title:      "Bach, Prelude in C",
			SalesType:  st,
			PriceMinor: 1000,
			CreatedAt:  now,
		})
	}
	order := domain.Order{
		ID:            id,
		CustomerID:    "customer-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Currency:      "EUR",
		AmountMinor:   int64(len(items)) * 1000,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.Create(order); err != nil {
		t.Fatalf("create order %s: %v", id, err)
	}
}

func TestAdjuster_PartitionCorrectness(t *testing.T) {
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	seedOrderWithItems(t, orders, "order-a", domain.SalesTypePreorder)
	seedOrderWithItems(t, orders, "order-b", domain.SalesTypeDigital)

	adj := NewAdjusterWithoutMetrics(orders, outbox, log.New().WithField("test", "partition"))
	report, err := adj.BulkSetExpectedCompletion([]string{"order-a", "order-b", "order-c"}, "2026-10-01")
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}

	if report.UpdatedCount != 1 || report.SkippedCount != 1 {
		t.Fatalf("expected counts 1/1, got %d/%d", report.UpdatedCount, report.SkippedCount)
	}
	if len(report.UpdatedOrderIDs) != 1 || report.UpdatedOrderIDs[0] != "order-a" {
		t.Fatalf("expected updated [order-a], got %v", report.UpdatedOrderIDs)
	}
	if len(report.SkippedOrderIDs) != 1 || report.SkippedOrderIDs[0] != "order-b" {
		t.Fatalf("expected skipped [order-b], got %v", report.SkippedOrderIDs)
	}

	// Дата записана только qualifying-заказу.
	a, err := orders.Get("order-a")
	if err != nil {
		t.Fatalf("get order-a: %v", err)
	}
	if a.ExpectedCompletionDate == nil {
		t.Fatal("expected completion date set on order-a")
	}
	if got := a.ExpectedCompletionDate.Format(domain.CompletionDateLayout); got != "2026-10-01" {
		t.Fatalf("expected date 2026-10-01, got %s", got)
	}
	b, err := orders.Get("order-b")
	if err != nil {
		t.Fatalf("get order-b: %v", err)
	}
	if b.ExpectedCompletionDate != nil {
		t.Fatal("expected order-b untouched")
	}

	events, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(events))
	}
	if events[0].EventType != "completion_date.updated" {
		t.Fatalf("expected completion_date.updated, got %s", events[0].EventType)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["order_id"] != "order-a" || payload["expected_completion_date"] != "2026-10-01" {
		t.Fatalf("unexpected event payload: %v", payload)
	}
}

func TestAdjuster_RejectsBadDateBeforeReads(t *testing.T) {
	repo := &countingOrderRepo{OrderRepository: memory.NewOrderRepository()}
	seedOrderWithItems(t, repo.OrderRepository, "order-a", domain.SalesTypePreorder)
	adj := NewAdjusterWithoutMetrics(repo, memory.NewOutboxRepository(), log.New().WithField("test", "bad_date"))

	for _, raw := range []string{"2024-13-40", "bad-date", "", "2024-1-1", "2023-02-29"} {
		_, err := adj.BulkSetExpectedCompletion([]string{"order-a"}, raw)
		if !errors.Is(err, domain.ErrInvalidCompletionDate) {
			t.Fatalf("date %q: expected ErrInvalidCompletionDate, got %v", raw, err)
		}
	}

	reads, writes := repo.counts()
	if reads != 0 || writes != 0 {
		t.Fatalf("expected no storage access on invalid date, got %d reads / %d writes", reads, writes)
	}
}

func TestAdjuster_EmptyIDs(t *testing.T) {
	repo := &countingOrderRepo{OrderRepository: memory.NewOrderRepository()}
	adj := NewAdjusterWithoutMetrics(repo, memory.NewOutboxRepository(), log.New().WithField("test", "empty_ids"))

	_, err := adj.BulkSetExpectedCompletion(nil, "2026-10-01")
	if !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
	if reads, _ := repo.counts(); reads != 0 {
		t.Fatalf("expected no reads for empty id set, got %d", reads)
	}
}

func TestAdjuster_NoQualifyingOrders(t *testing.T) {
	repo := &countingOrderRepo{OrderRepository: memory.NewOrderRepository()}
	outbox := memory.NewOutboxRepository()
	seedOrderWithItems(t, repo.OrderRepository, "order-b", domain.SalesTypeDigital)
	seedOrderWithItems(t, repo.OrderRepository, "order-d", domain.SalesTypeDigital)

	adj := NewAdjusterWithoutMetrics(repo, outbox, log.New().WithField("test", "none_qualify"))
	report, err := adj.BulkSetExpectedCompletion([]string{"order-b", "order-d"}, "2026-10-01")
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}

	if report.UpdatedCount != 0 || report.SkippedCount != 2 {
		t.Fatalf("expected counts 0/2, got %d/%d", report.UpdatedCount, report.SkippedCount)
	}
	if _, writes := repo.counts(); writes != 0 {
		t.Fatalf("expected no batched write without qualifying orders, got %d", writes)
	}
	if events, _ := outbox.PullPending(10); len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestAdjuster_MixedItemsOrderQualifies(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedOrderWithItems(t, orders, "order-m", domain.SalesTypeDigital, domain.SalesTypePreorder)

	adj := NewAdjusterWithoutMetrics(orders, memory.NewOutboxRepository(), log.New().WithField("test", "mixed_items"))
	report, err := adj.BulkSetExpectedCompletion([]string{"order-m"}, "2026-10-01")
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}

	// Предикат на заказ целиком: одна PREORDER-позиция квалифицирует заказ.
	if report.UpdatedCount != 1 || len(report.SkippedOrderIDs) != 0 {
		t.Fatalf("expected whole order updated, got %+v", report)
	}
}

func TestAdjuster_DuplicateIDsCollapse(t *testing.T) {
	orders := memory.NewOrderRepository()
	seedOrderWithItems(t, orders, "order-a", domain.SalesTypePreorder)

	adj := NewAdjusterWithoutMetrics(orders, memory.NewOutboxRepository(), log.New().WithField("test", "duplicates"))
	report, err := adj.BulkSetExpectedCompletion([]string{"order-a", "order-a", "order-a"}, "2026-10-01")
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}

	if report.UpdatedCount != 1 || len(report.UpdatedOrderIDs) != 1 {
		t.Fatalf("expected duplicates to collapse, got %+v", report)
	}
}
