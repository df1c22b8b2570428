package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
)

// headerIdempotencyKey — опциональный заголовок ключа идемпотентности.
const headerIdempotencyKey = "Idempotency-Key"

// withIdempotency кэширует ответы мутирующих запросов по Idempotency-Key.
// Запрос без заголовка обрабатывается как обычно. Повтор с тем же ключом
// возвращает сохранённый ответ как есть; повтор, пока первая попытка ещё в
// обработке, получает 409 с подсказкой повторить позже; ключ с другим телом
// запроса отклоняется.
func (s *Service) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.idempotency == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if key == "" {
			s.logger.WithFields(log.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("request without idempotency key")
			next.ServeHTTP(w, r)
			return
		}

		// Тело читается целиком: оно входит в хеш запроса и возвращается
		// обработчику нетронутым.
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
		if err != nil {
			writeInvalidBody(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		hash := idempotencyRequestHash(r.Method, r.URL.Path, body)
		ttlAt := time.Now().UTC().Add(s.idempotencyTTL)
		if _, err := s.idempotency.CreateProcessing(key, hash, ttlAt); err != nil {
			s.replayIdempotent(w, key, err)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)
		s.finishIdempotent(key, recorder)
	})
}

// replayIdempotent отвечает на повтор ключа: сохранённый ответ, конфликт тела
// или конфликт незавершённой первой попытки.
func (s *Service) replayIdempotent(w http.ResponseWriter, key string, createErr error) {
	if errors.Is(createErr, domain.ErrIdempotencyHashMismatch) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: domain.ErrIdempotencyHashMismatch.Error(),
			Code:  codeIdempotencyConflict,
		})
		return
	}
	if !errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists) {
		s.logger.WithError(createErr).WithField("idempotency_key", key).Error("idempotency create failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "storage write failed",
			Code:  codeStoreWriteFailure,
			Hint:  createErr.Error(),
		})
		return
	}

	record, err := s.idempotency.Get(key)
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Error("idempotency lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "storage write failed",
			Code:  codeStoreWriteFailure,
			Hint:  err.Error(),
		})
		return
	}

	if record.Status == domain.IdempotencyStatusProcessing {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "request with this idempotency key is still processing",
			Code:  codeIdempotencyInFlight,
			Hint:  "retry later",
		})
		return
	}

	s.logger.WithFields(log.Fields{
		"idempotency_key": key,
		"http_status":     record.HTTPStatus,
	}).Info("idempotent replay")
	writeStoredResponse(w, record)
}

// writeStoredResponse воспроизводит сохранённый ответ байт в байт.
func writeStoredResponse(w http.ResponseWriter, record domain.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	status := record.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// finishIdempotent сохраняет итоговый ответ под ключом. Ошибка записи только
// логируется: ответ клиенту уже отдан.
func (s *Service) finishIdempotent(key string, recorder *responseRecorder) {
	var err error
	if recorder.Status() < http.StatusBadRequest {
		err = s.idempotency.MarkDone(key, recorder.body.Bytes(), recorder.Status())
	} else {
		err = s.idempotency.MarkFailed(key, recorder.body.Bytes(), recorder.Status())
	}
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Error("idempotency save failed")
	}
}

// idempotencyRequestHash детерминированно хеширует метод, путь и тело запроса.
func idempotencyRequestHash(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{'\n'})
	sum.Write([]byte(path))
	sum.Write([]byte{'\n'})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// responseRecorder дублирует ответ в буфер, чтобы сохранить его под ключом
// идемпотентности.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

// Status возвращает записанный статус; без явного WriteHeader это 200.
func (r *responseRecorder) Status() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.status
}
