// Package event определяет обобщенную, типобезопасную шину событий для
// внутрипроцессного взаимодействия. Каждая шина обслуживает один топик и один
// тип события; синхронные подписчики получают события строго по одному в
// порядке публикации.
package event

import (
	"context"
	"errors"
)

// ErrClosed возвращается при публикации в остановленную шину.
var ErrClosed = errors.New("шина событий остановлена")

// Event определяет минимальный контракт для любого события, которое может быть
// передано через шину.
type Event interface {
	// Topic возвращает имя топика, к которому относится событие.
	Topic() string
}

// EventHandler — строго типизированная функция-обработчик события.
type EventHandler[T Event] func(ctx context.Context, event T) error

// ErrorHandler — функция для обработки ошибок, возникших в EventHandler.
type ErrorHandler[T Event] func(err error, event T)

// Middleware — функция-декоратор для EventHandler отдельной подписки.
type Middleware[T Event] func(next EventHandler[T]) EventHandler[T]

// Provider определяет контракт для сменных механизмов доставки событий.
type Provider[T Event] interface {
	// Publish публикует событие. Ошибки обработчиков не возвращаются,
	// они передаются в ErrorHandler подписки.
	Publish(ctx context.Context, event T) error

	// Subscribe подписывает обработчик и возвращает функцию отписки.
	Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error)

	// Shutdown дожидается завершения асинхронных обработчиков и освобождает ресурсы.
	Shutdown(ctx context.Context) error
}

// subscriptionOptions определяет параметры конкретной подписки.
type subscriptionOptions[T Event] struct {
	name         string
	isAsync      bool
	errorHandler ErrorHandler[T]
	middleware   []Middleware[T]
	filter       func(T) bool
}

// SubscribeOption — функциональная опция для настройки подписки.
type SubscribeOption[T Event] func(*subscriptionOptions[T])

func newSubscriptionOptions[T Event](opts []SubscribeOption[T]) *subscriptionOptions[T] {
	o := &subscriptionOptions[T]{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithAsync включает асинхронную обработку через пул воркеров.
// Асинхронные подписчики не участвуют в последовательной свертке событий.
func WithAsync[T Event]() SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.isAsync = true
	}
}

// WithErrorHandler задает пользовательский обработчик ошибок.
func WithErrorHandler[T Event](handler ErrorHandler[T]) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.errorHandler = handler
	}
}

// WithMiddleware добавляет локальные middleware, которые применяются только к данной подписке.
func WithMiddleware[T Event](mw ...Middleware[T]) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithSubscriberName задает имя подписчика для логов и метрик.
func WithSubscriberName[T Event](name string) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.name = name
	}
}

// WithFilter ограничивает подписку событиями, для которых filter возвращает true.
// Отфильтрованные события не доходят ни до обработчика, ни до его middleware.
func WithFilter[T Event](filter func(T) bool) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.filter = filter
	}
}
