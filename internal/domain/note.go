package domain

import (
	"fmt"
	"time"
)

// NoteType — тег заметки аудиторского журнала заказа.
type NoteType string

const (
	// NoteTypeCancel — отмена платежа (advisory от провайдера или внутренняя).
	NoteTypeCancel NoteType = "cancel"
	// NoteTypeError — ошибка платежа, заказ остаётся pending и может быть оплачен повторно.
	NoteTypeError NoteType = "error"
	// NoteTypeSystemError — системная ошибка, заказ переведён в failed.
	NoteTypeSystemError NoteType = "system_error"
	// NoteTypeUnknown — тип не распознан; используется как fallback для внешнего ввода.
	NoteTypeUnknown NoteType = "unknown"
)

// Valid проверяет, что тип относится к поддерживаемым значениям.
func (t NoteType) Valid() bool {
	switch t {
	case NoteTypeCancel, NoteTypeError, NoteTypeSystemError, NoteTypeUnknown:
		return true
	default:
		return false
	}
}

// NormalizeNoteType приводит внешний ввод к поддерживаемому типу заметки.
func NormalizeNoteType(raw string) NoteType {
	t := NoteType(raw)
	if t.Valid() {
		return t
	}
	return NoteTypeUnknown
}

// PaymentNote — одна запись журнала. Записи никогда не изменяются и не
// переупорядочиваются после добавления.
type PaymentNote struct {
	Type      NoteType  `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Rendered возвращает отображаемую форму заметки: "[type] message (timestamp)".
// Именно эта строка хранится в проекции Order.PaymentNote.
func (n PaymentNote) Rendered() string {
	return fmt.Sprintf("[%s] %s (%s)", n.Type, n.Message, n.Timestamp.UTC().Format(time.RFC3339))
}
