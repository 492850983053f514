package alerts

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/x-research-team/alertlookup/alerts/journal"
	"github.com/x-research-team/alertlookup/alerts/result"
	"github.com/x-research-team/alertlookup/bus/event"
	"github.com/x-research-team/alertlookup/bus/query"
)

type config struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	cellName       string
	staleRejection bool
	journal        *journal.Journal
	events         *event.Registry
	queries        *query.Registry
	workers        int
	queueSize      int
}

// Option определяет функциональную опцию клиента.
type Option func(*config)

func newConfig(opts []Option) *config {
	cfg := &config{cellName: result.DefaultCellName}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithLogger устанавливает логгер клиента, шины и диспетчера.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracerProvider устанавливает провайдер трассировки.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider устанавливает провайдер метрик.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}

// WithPropagator устанавливает механизм распространения контекста.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithCellName задает логическое имя ячейки результата.
func WithCellName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.cellName = name
		}
	}
}

// WithStaleRejection включает отбрасывание результатов устаревших запросов.
func WithStaleRejection() Option {
	return func(c *config) {
		c.staleRejection = true
	}
}

// WithJournal подписывает журнал на завершенные циклы. Клиент запускает
// и останавливает его сам.
func WithJournal(j *journal.Journal) Option {
	return func(c *config) {
		c.journal = j
	}
}

// WithEventRegistry использует общий реестр шин событий. Реестр, переданный
// снаружи, клиент не останавливает.
func WithEventRegistry(r *event.Registry) Option {
	return func(c *config) {
		c.events = r
	}
}

// WithQueryRegistry использует общий реестр диспетчеров запросов. Реестр,
// переданный снаружи, клиент не останавливает.
func WithQueryRegistry(r *query.Registry) Option {
	return func(c *config) {
		c.queries = r
	}
}

// WithWorkerPool задает пул асинхронных подписчиков шины.
func WithWorkerPool(workers, queueSize int) Option {
	return func(c *config) {
		c.workers = workers
		c.queueSize = queueSize
	}
}
