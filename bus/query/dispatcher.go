package query

import (
	"context"
)

// IDispatcher определяет основной, строго типизированный интерфейс для шины запросов.
type IDispatcher[Q Query[R], R any] interface {
	// Dispatch выполняет зарегистрированный обработчик и возвращает его результат.
	// Если обработчик не зарегистрирован, возвращается ошибка.
	Dispatch(ctx context.Context, q Q) (R, error)

	// Register связывает тип запроса Q с его обработчиком.
	// Повторная регистрация возвращает ошибку.
	Register(handler QueryHandler[Q, R]) error

	// Shutdown корректно завершает работу диспетчера.
	Shutdown(ctx context.Context) error
}

// dispatcher — реализация IDispatcher поверх провайдера с цепочкой middleware.
type dispatcher[Q Query[R], R any] struct {
	provider Provider[Q, R]
}

// NewDispatcher создает новый, готовый к использованию экземпляр диспетчера.
func NewDispatcher[Q Query[R], R any](opts ...Option[Q, R]) IDispatcher[Q, R] {
	cfg := &config[Q, R]{}
	for _, opt := range opts {
		opt(cfg)
	}

	provider := cfg.provider
	if provider == nil {
		provider = NewLocalProvider[Q, R]()
	}

	allMiddlewares := []Middleware[Q, R]{
		NewLoggingMiddleware[Q, R](cfg.logger),
		NewMetricsMiddleware[Q, R](cfg.meterProvider),
		NewTracingMiddleware[Q, R](cfg.tracerProvider, cfg.propagator),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)

	return &dispatcher[Q, R]{
		provider: applyMiddlewares(provider, allMiddlewares...),
	}
}

// Register регистрирует обработчик для конкретного типа запроса.
func (d *dispatcher[Q, R]) Register(handler QueryHandler[Q, R]) error {
	return d.provider.Register(handler)
}

// Dispatch находит и выполняет обработчик для указанного запроса.
func (d *dispatcher[Q, R]) Dispatch(ctx context.Context, q Q) (R, error) {
	return d.provider.Dispatch(ctx, q)
}

// Shutdown завершает работу провайдера.
func (d *dispatcher[Q, R]) Shutdown(ctx context.Context) error {
	return d.provider.Shutdown(ctx)
}
