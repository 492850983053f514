package event

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// config содержит неэкспортируемую конфигурацию для шины событий.
type config[T Event] struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	middlewares    []BusMiddleware[T]
	provider       Provider[T]
	workers        int
	queueSize      int
}

// Option определяет тип для функциональных опций, которые изменяют конфигурацию шины.
type Option[T Event] func(*config[T])

func newConfig[T Event](opts []Option[T]) *config[T] {
	cfg := &config[T]{
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithLogger устанавливает логгер для шины событий.
func WithLogger[T Event](logger *slog.Logger) Option[T] {
	return func(c *config[T]) {
		c.logger = logger
	}
}

// WithTracerProvider устанавливает провайдер трассировки OpenTelemetry.
func WithTracerProvider[T Event](provider trace.TracerProvider) Option[T] {
	return func(c *config[T]) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider устанавливает провайдер метрик OpenTelemetry.
func WithMeterProvider[T Event](provider metric.MeterProvider) Option[T] {
	return func(c *config[T]) {
		c.meterProvider = provider
	}
}

// WithPropagator устанавливает механизм распространения контекста трассировки.
func WithPropagator[T Event](propagator propagation.TextMapPropagator) Option[T] {
	return func(c *config[T]) {
		c.propagator = propagator
	}
}

// WithBusMiddleware добавляет middleware в цепочку шины.
// Middleware выполняются в порядке их добавления, после стандартных.
func WithBusMiddleware[T Event](mw ...BusMiddleware[T]) Option[T] {
	return func(c *config[T]) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// WithProvider подменяет локальный провайдер пользовательским.
func WithProvider[T Event](p Provider[T]) Option[T] {
	return func(c *config[T]) {
		c.provider = p
	}
}

// WithWorkerPool настраивает пул воркеров для асинхронных подписчиков.
// Неположительные значения заменяются значениями по умолчанию.
func WithWorkerPool[T Event](workers, queueSize int) Option[T] {
	return func(c *config[T]) {
		if workers > 0 {
			c.workers = workers
		}
		if queueSize > 0 {
			c.queueSize = queueSize
		}
	}
}
