// Package httpapi реализует JSON API платёжного ядра: reconciliation,
// верификацию провайдерских платежей, журнал заметок и bulk-обновление
// сроков готовности предзаказов.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/partitura-music/payments/internal/domain"
	"github.com/partitura-music/payments/internal/metrics"
	"github.com/partitura-music/payments/internal/provider"
	"github.com/partitura-music/payments/internal/service/reconcile"
	"github.com/partitura-music/payments/internal/service/scheduling"
)

// defaultIdempotencyTTL ограничивает срок жизни записей Idempotency-Key,
// если TTL не задан в конфигурации.
const defaultIdempotencyTTL = 24 * time.Hour

// Deps перечисляет зависимости HTTP-сервиса. Outbox, журнал транзакций,
// идемпотентность и метрики опциональны: без них сервис работает, а
// соответствующие возможности отключаются.
type Deps struct {
	Orders       domain.OrderRepository
	Profiles     domain.ProfileRepository
	Transactions domain.TransactionLogRepository
	Reconciler   reconcile.Reconciler
	Notes        domain.NoteAppender
	Scheduler    scheduling.Adjuster
	Providers    *provider.Registry
	Outbox       domain.OutboxRepository
	Idempotency  domain.IdempotencyRepository
	Logger       *log.Entry
	HTTPMetrics  *metrics.HTTPMetrics

	// IdempotencyTTL — срок хранения ответа под Idempotency-Key.
	IdempotencyTTL time.Duration
}

// Service обслуживает HTTP-запросы платёжного ядра.
type Service struct {
	orders       domain.OrderRepository
	profiles     domain.ProfileRepository
	transactions domain.TransactionLogRepository
	reconciler   reconcile.Reconciler
	notes        domain.NoteAppender
	scheduler    scheduling.Adjuster
	providers    *provider.Registry
	outbox       domain.OutboxRepository
	idempotency  domain.IdempotencyRepository
	logger       *log.Entry
	httpMetrics  *metrics.HTTPMetrics

	idempotencyTTL time.Duration
}

// NewService создаёт HTTP-сервис поверх переданных зависимостей.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}

	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return &Service{
		orders:         deps.Orders,
		profiles:       deps.Profiles,
		transactions:   deps.Transactions,
		reconciler:     deps.Reconciler,
		notes:          deps.Notes,
		scheduler:      deps.Scheduler,
		providers:      deps.Providers,
		outbox:         deps.Outbox,
		idempotency:    deps.Idempotency,
		logger:         logger,
		httpMetrics:    deps.HTTPMetrics,
		idempotencyTTL: ttl,
	}
}

// Router собирает chi-маршрутизатор со всеми эндпоинтами API.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found", Code: codeNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: codeInvalidArgument})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.withIdempotency)

		api.Route("/orders", func(orders chi.Router) {
			orders.Post("/", s.handleCreateOrder)
			orders.Get("/{orderID}", s.handleGetOrder)
			orders.Post("/append-note", s.handleAppendNote)
			orders.Put("/bulk-set-expected-completion", s.handleBulkSetExpectedCompletion)
			orders.Post("/cancel", s.handleCancelOrder)
			orders.Post("/fail", s.handleFailOrder)
		})

		api.Route("/payments", func(payments chi.Router) {
			payments.Post("/initiate", s.handleInitiatePayment)
			payments.Post("/reconcile-credits", s.handleReconcileCredits)
			payments.Post("/verify-provider-payment", s.handleVerifyProviderPayment)
		})

		api.Post("/profiles/top-up", s.handleTopUpProfile)
	})

	return r
}

// observe логирует итог каждого запроса и записывает HTTP-метрики. Маршрут
// берётся из шаблона chi после обработки, чтобы метрики не размножались по
// конкретным идентификаторам.
func (s *Service) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if s.httpMetrics != nil {
			s.httpMetrics.RecordRequest(r.Method, route, ww.Status(), duration)
		}
		s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": duration.Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}
