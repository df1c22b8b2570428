// Package notes реализует накопитель платёжных заметок заказа. Каждая
// заметка дописывается в metadata.payment_notes, а колонка payment_note
// хранит проекцию последней заметки для списочных выборок.
package notes

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/metrics"
)

// accumulator реализует domain.NoteAppender поверх OrderRepository.
type accumulator struct {
	orders  domain.OrderRepository
	logger  *log.Entry
	metrics *metrics.PaymentMetrics
}

// NewAccumulator создаёт рабочий накопитель заметок.
func NewAccumulator(orders domain.OrderRepository, logger *log.Entry) domain.NoteAppender {
	if logger == nil {
		logger = log.New().WithField("component", "notes")
	}
	return &accumulator{
		orders:  orders,
		logger:  logger,
		metrics: metrics.NewPaymentMetrics(),
	}
}

// NewAccumulatorWithoutMetrics создаёт накопитель без метрик (для тестов).
func NewAccumulatorWithoutMetrics(orders domain.OrderRepository, logger *log.Entry) domain.NoteAppender {
	if logger == nil {
		logger = log.New().WithField("component", "notes")
	}
	return &accumulator{
		orders: orders,
		logger: logger,
	}
}

// Append дописывает заметку в историю заказа и обновляет проекцию последней
// заметки. История только растёт: уже записанные заметки не переставляются и
// не перезаписываются. Если в схеме хранилища нет колонки payment_note,
// заметка сохраняется только в metadata, операция считается успешной.
func (a *accumulator) Append(orderID string, noteType domain.NoteType, message string) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if message == "" {
		return domain.ErrNoteMessageRequired
	}
	noteType = domain.NormalizeNoteType(string(noteType))

	order, err := a.orders.Get(orderID)
	if err != nil {
		return fmt.Errorf("load order for note: %w", err)
	}

	note := domain.PaymentNote{
		Type:      noteType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	md := order.Metadata.Clone()
	if md.SchemaVersion == 0 {
		md.SchemaVersion = domain.MetadataSchemaVersion
	}
	md.PaymentNotes = append(md.PaymentNotes, note)

	if err := a.orders.UpdateNotes(orderID, md, note.Rendered()); err != nil {
		if !errors.Is(err, domain.ErrPaymentNoteColumnMissing) {
			return fmt.Errorf("append note: %w", err)
		}
		a.logger.WithFields(log.Fields{
			"order_id":  orderID,
			"note_type": noteType,
		}).Warn("payment_note column missing, falling back to metadata-only write")
		if a.metrics != nil {
			a.metrics.RecordNoteFallback()
		}
		if fallbackErr := a.orders.UpdateNotesMetadataOnly(orderID, md); fallbackErr != nil {
			return fmt.Errorf("append note metadata fallback: %w", fallbackErr)
		}
	}

	if a.metrics != nil {
		a.metrics.RecordPaymentNote()
	}
	a.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"note_type": noteType,
	}).Info("payment note appended")
	return nil
}

var _ domain.NoteAppender = (*accumulator)(nil)
