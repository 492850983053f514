package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-reflect"
)

// Provider определяет контракт для сменных механизмов диспетчеризации запросов.
type Provider[Q Query[R], R any] interface {
	// Dispatch отправляет запрос на выполнение.
	Dispatch(ctx context.Context, q Q) (R, error)

	// Register регистрирует обработчик для запроса.
	Register(handler QueryHandler[Q, R]) error

	// Shutdown корректно завершает работу провайдера.
	Shutdown(ctx context.Context) error
}

// localProvider — это локальная, внутрипроцессная реализация провайдера запросов.
type localProvider[Q Query[R], R any] struct {
	handler QueryHandler[Q, R]
	mu      sync.RWMutex
}

// NewLocalProvider создает новый экземпляр локального провайдера.
func NewLocalProvider[Q Query[R], R any]() Provider[Q, R] {
	return &localProvider[Q, R]{}
}

// Dispatch находит и выполняет обработчик для указанного запроса.
func (p *localProvider[Q, R]) Dispatch(ctx context.Context, q Q) (R, error) {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	if handler == nil {
		var zero R
		return zero, fmt.Errorf("обработчик для запроса '%s' не найден", typeName[Q]())
	}

	return handler(ctx, q)
}

// Register регистрирует обработчик для конкретного типа запроса.
func (p *localProvider[Q, R]) Register(handler QueryHandler[Q, R]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handler != nil {
		return fmt.Errorf("обработчик для запроса '%s' уже зарегистрирован", typeName[Q]())
	}

	p.handler = handler
	return nil
}

// Shutdown в данной реализации не выполняет никаких действий.
func (p *localProvider[Q, R]) Shutdown(ctx context.Context) error {
	return nil
}

func typeName[Q any]() string {
	return reflect.TypeOf((*Q)(nil)).Elem().String()
}
