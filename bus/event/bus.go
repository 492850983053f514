package event

import (
	"context"
	"fmt"
)

// IBus определяет строго типизированный интерфейс для публикации и подписки
// на события конкретного типа T.
type IBus[T Event] interface {
	// Publish публикует событие типа T в шину.
	Publish(ctx context.Context, event T) error

	// Subscribe подписывает строго типизированный обработчик на события типа T.
	Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error)

	// Shutdown корректно завершает работу шины.
	Shutdown(ctx context.Context) error

	// Topic возвращает топик шины.
	Topic() string
}

// busImpl - это реализация строго типизированной шины событий.
type busImpl[T Event] struct {
	topic    string
	provider Provider[T]
}

// NewBus создает новый экземпляр шины для типа события T и топика.
func NewBus[T Event](topic string, opts ...Option[T]) (IBus[T], error) {
	if topic == "" {
		return nil, fmt.Errorf("topic не может быть пустым")
	}

	cfg := newConfig(opts)

	provider := cfg.provider
	if provider == nil {
		local, err := NewLocalProvider(topic, cfg)
		if err != nil {
			return nil, fmt.Errorf("не удалось создать локальный провайдер: %w", err)
		}
		provider = local
	}

	// Сначала стандартные middleware, затем пользовательские.
	allMiddlewares := []BusMiddleware[T]{
		NewLoggingMiddleware[T](cfg.logger),
		NewMetricsMiddleware[T](cfg.meterProvider),
		NewTracingMiddleware[T](cfg.tracerProvider, cfg.propagator),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)

	return &busImpl[T]{
		topic:    topic,
		provider: applyMiddlewares(provider, allMiddlewares...),
	}, nil
}

// Publish публикует событие в шину.
func (b *busImpl[T]) Publish(ctx context.Context, event T) error {
	if event.Topic() != b.topic {
		return fmt.Errorf("событие топика '%s' нельзя опубликовать в шину '%s'", event.Topic(), b.topic)
	}
	return b.provider.Publish(ctx, event)
}

// Subscribe подписывает обработчик на события.
func (b *busImpl[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	if handler == nil {
		return nil, fmt.Errorf("обработчик не может быть nil")
	}
	return b.provider.Subscribe(handler, opts...)
}

// Shutdown завершает работу шины.
func (b *busImpl[T]) Shutdown(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}

// Topic возвращает топик шины.
func (b *busImpl[T]) Topic() string {
	return b.topic
}
