package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry - это потокобезопасный реестр диспетчеров.
// Для каждого имени запроса существует только один экземпляр диспетчера.
type Registry struct {
	dispatchers map[string]any
	mu          sync.RWMutex
}

// NewRegistry создает новый экземпляр реестра диспетчеров.
func NewRegistry() *Registry {
	return &Registry{
		dispatchers: make(map[string]any),
	}
}

// Dispatcher возвращает строго типизированный диспетчер для имени запроса,
// создавая его при первом обращении. Опции применяются только при создании.
func Dispatcher[Q Query[R], R any](r *Registry, queryName string, opts ...Option[Q, R]) (IDispatcher[Q, R], error) {
	r.mu.RLock()
	existing, exists := r.dispatchers[queryName]
	r.mu.RUnlock()

	if exists {
		return typedDispatcher[Q, R](existing, queryName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная проверка на случай, если диспетчер был создан во время ожидания блокировки.
	if existing, exists := r.dispatchers[queryName]; exists {
		return typedDispatcher[Q, R](existing, queryName)
	}

	d := NewDispatcher(opts...)
	r.dispatchers[queryName] = d
	return d, nil
}

func typedDispatcher[Q Query[R], R any](d any, queryName string) (IDispatcher[Q, R], error) {
	if typed, ok := d.(IDispatcher[Q, R]); ok {
		return typed, nil
	}
	return nil, fmt.Errorf("диспетчер для запроса '%s' уже существует с другим типом", queryName)
}

// Shutdown корректно завершает работу всех зарегистрированных диспетчеров.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, d := range r.dispatchers {
		if s, ok := d.(interface{ Shutdown(context.Context) error }); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("диспетчер '%s': %w", name, err))
			}
		}
	}

	return errors.Join(errs...)
}
