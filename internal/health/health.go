// Package health отдаёт /healthz, /readyz и /livez для оркестратора.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса в целом.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check — результат одной проверки зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Checker выполняет одну проверку зависимости.
type Checker interface {
	Check() Check
}

// Report — сводный ответ /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Handler агрегирует проверки зависимостей. Сбой критичной зависимости
// (хранилище) делает сервис unhealthy и валит readiness; сбой опциональной
// (kafka) только деградирует статус: недоступность брокера переживается
// через outbox, HTTP-запросы продолжают обслуживаться.
type Handler struct {
	mu        sync.RWMutex
	critical  map[string]Checker
	optional  map[string]Checker
	version   string
	startedAt time.Time
}

// NewHandler создаёт пустой агрегатор проверок.
func NewHandler(version string) *Handler {
	return &Handler{
		critical:  make(map[string]Checker),
		optional:  make(map[string]Checker),
		version:   version,
		startedAt: time.Now(),
	}
}

// Register регистрирует критичную зависимость.
func (h *Handler) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.critical[name] = c
}

// RegisterOptional регистрирует зависимость, сбой которой деградирует сервис,
// но не останавливает обслуживание.
func (h *Handler) RegisterOptional(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.optional[name] = c
}

func (h *Handler) snapshot() (critical, optional map[string]Checker) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	critical = make(map[string]Checker, len(h.critical))
	for name, c := range h.critical {
		critical[name] = c
	}
	optional = make(map[string]Checker, len(h.optional))
	for name, c := range h.optional {
		optional[name] = c
	}
	return critical, optional
}

// ServeHTTP отдаёт полный отчёт. 503 только при unhealthy; degraded остаётся
// 200, чтобы балансировщик не выводил инстанс из ротации.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	critical, optional := h.snapshot()

	checks := make(map[string]Check, len(critical)+len(optional))
	overall := StatusHealthy

	for name, checker := range critical {
		check := checker.Check()
		checks[name] = check
		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	for name, checker := range optional {
		check := checker.Check()
		checks[name] = check
		if check.Status != StatusHealthy && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Report{
		Status:        overall,
		Timestamp:     time.Now(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Checks:        checks,
	})
}

// Readiness — probe готовности: 503, когда нездорова критичная зависимость.
// Опциональные зависимости на готовность не влияют.
func (h *Handler) Readiness(w http.ResponseWriter, _ *http.Request) {
	critical, _ := h.snapshot()

	for _, checker := range critical {
		if check := checker.Check(); check.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Liveness — probe живости процесса, всегда 200.
func Liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type funcChecker struct {
	name string
	fn   func() error
}

// NewChecker оборачивает функцию проверки в Checker. Ошибка переводится в
// unhealthy с текстом в message.
func NewChecker(name string, fn func() error) Checker {
	return &funcChecker{name: name, fn: fn}
}

func (c *funcChecker) Check() Check {
	start := time.Now()
	err := c.fn()
	elapsed := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: elapsed.Milliseconds(),
		}
	}
	return Check{Name: c.name, Status: StatusHealthy, DurationMs: elapsed.Milliseconds()}
}
