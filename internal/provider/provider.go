// Package provider содержит адаптеры внешних платёжных провайдеров и их
// реестр. Адаптер отвечает за инициацию платежа, серверную проверку его
// состояния и нормализацию сырого payload в канонический исход.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/partitura-music/payments/internal/domain"
)

// Registry хранит именованные адаптеры провайдеров. Пустое имя при lookup
// разрешается в адаптер по умолчанию.
type Registry struct {
	mu          sync.RWMutex
	adapters    map[string]domain.PaymentProvider
	defaultName string
}

// NewRegistry создаёт пустой реестр адаптеров.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]domain.PaymentProvider),
	}
}

// Register добавляет адаптер под его собственным именем. Первый
// зарегистрированный адаптер становится адаптером по умолчанию.
func (r *Registry) Register(adapter domain.PaymentProvider) {
	if adapter == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	r.adapters[name] = adapter
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// SetDefault назначает адаптер по умолчанию. Имя должно быть зарегистрировано.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("set default provider %q: %w", name, domain.ErrProviderNotConfigured)
	}
	r.defaultName = name
	return nil
}

// Lookup возвращает адаптер по имени; пустое имя — адаптер по умолчанию.
func (r *Registry) Lookup(name string) (domain.PaymentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("lookup provider %q: %w", name, domain.ErrProviderNotConfigured)
	}
	return adapter, nil
}

// Names возвращает отсортированный список зарегистрированных адаптеров.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
