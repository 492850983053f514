package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/goccy/go-reflect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/alertlookup/bus/event"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "messaging."
)

// BusMiddleware оборачивает провайдер, добавляя сквозную функциональность
// (логирование, метрики, трассировка) вокруг публикации и обработки событий.
type BusMiddleware[T Event] interface {
	Wrap(next Provider[T]) Provider[T]
}

// MiddlewareFunc является адаптером, позволяющим использовать обычные функции как middleware.
type MiddlewareFunc[T Event] func(next Provider[T]) Provider[T]

// Wrap реализует интерфейс BusMiddleware.
func (f MiddlewareFunc[T]) Wrap(next Provider[T]) Provider[T] {
	return f(next)
}

// subscriberName возвращает имя подписчика из опций или имя функции обработчика.
func subscriberName[T Event](handler EventHandler[T], opts []SubscribeOption[T]) string {
	if name := newSubscriptionOptions(opts).name; name != "" {
		return name
	}
	return getHandlerName(handler)
}

// loggingMiddleware реализует BusMiddleware для логирования операций с событиями.
type loggingMiddleware[T Event] struct {
	logger *slog.Logger
}

// NewLoggingMiddleware создает middleware для логирования.
// Если логгер не предоставлен (nil), возвращается no-op middleware.
func NewLoggingMiddleware[T Event](logger *slog.Logger) BusMiddleware[T] {
	if logger == nil {
		return &noopMiddleware[T]{}
	}
	return &loggingMiddleware[T]{logger: logger}
}

// Wrap оборачивает провайдер для добавления логирования.
func (m *loggingMiddleware[T]) Wrap(next Provider[T]) Provider[T] {
	return &loggingProvider[T]{next: next, logger: m.logger}
}

type loggingProvider[T Event] struct {
	next   Provider[T]
	logger *slog.Logger
}

// Publish логирует и публикует событие.
func (p *loggingProvider[T]) Publish(ctx context.Context, event T) error {
	eventType, eventID := getEventTypeAndID(event)
	p.logger.Debug("публикация события", slog.String("event_type", eventType), slog.String("event_id", eventID))

	err := p.next.Publish(ctx, event)
	if err != nil {
		p.logger.Error("ошибка публикации события",
			slog.String("event_type", eventType),
			slog.String("event_id", eventID),
			slog.Any("error", err),
		)
	}
	return err
}

// Subscribe оборачивает обработчик логированием начала и результата обработки.
func (p *loggingProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	handlerName := subscriberName(handler, opts)

	wrappedHandler := func(ctx context.Context, event T) (err error) {
		eventType, eventID := getEventTypeAndID(event)
		startTime := time.Now()
		defer func() {
			duration := time.Since(startTime)
			if err != nil {
				p.logger.Error("ошибка обработки события",
					slog.String("event_type", eventType),
					slog.String("event_id", eventID),
					slog.String("handler_name", handlerName),
					slog.Any("error", err),
					slog.Duration("duration", duration),
				)
				return
			}
			p.logger.Debug("событие обработано",
				slog.String("event_type", eventType),
				slog.String("event_id", eventID),
				slog.String("handler_name", handlerName),
				slog.Duration("duration", duration),
			)
		}()

		return handler(ctx, event)
	}

	return p.next.Subscribe(wrappedHandler, withName(opts, handlerName)...)
}

// Shutdown делегирует вызов следующему провайдеру в цепочке.
func (p *loggingProvider[T]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// metricsMiddleware реализует BusMiddleware для сбора метрик OpenTelemetry.
type metricsMiddleware[T Event] struct {
	publishCounter      metric.Int64Counter
	consumeCounter      metric.Int64Counter
	consumeDurationHist metric.Float64Histogram
}

// NewMetricsMiddleware создает middleware для сбора метрик.
func NewMetricsMiddleware[T Event](provider metric.MeterProvider) BusMiddleware[T] {
	if provider == nil {
		return &noopMiddleware[T]{}
	}

	meter := provider.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))

	publishCounter, err := meter.Int64Counter(
		metricKeyPrefix+"publish.count",
		metric.WithDescription("Количество опубликованных событий"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик publish.count: %v", err))
	}

	consumeCounter, err := meter.Int64Counter(
		metricKeyPrefix+"consume.count",
		metric.WithDescription("Количество обработанных событий"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик consume.count: %v", err))
	}

	consumeDurationHist, err := meter.Float64Histogram(
		metricKeyPrefix+"consume.duration",
		metric.WithDescription("Длительность обработки события"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму consume.duration: %v", err))
	}

	return &metricsMiddleware[T]{
		publishCounter:      publishCounter,
		consumeCounter:      consumeCounter,
		consumeDurationHist: consumeDurationHist,
	}
}

// Wrap оборачивает провайдер для добавления сбора метрик.
func (m *metricsMiddleware[T]) Wrap(next Provider[T]) Provider[T] {
	return &metricsProvider[T]{next: next, m: m}
}

type metricsProvider[T Event] struct {
	next Provider[T]
	m    *metricsMiddleware[T]
}

// Publish публикует событие и учитывает его в счетчике.
func (p *metricsProvider[T]) Publish(ctx context.Context, event T) error {
	err := p.next.Publish(ctx, event)

	eventType, _ := getEventTypeAndID(event)
	p.m.publishCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("status", statusOf(err)),
	))

	return err
}

// Subscribe оборачивает обработчик сбором счетчика и длительности обработки.
func (p *metricsProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	handlerName := subscriberName(handler, opts)

	wrappedHandler := func(ctx context.Context, event T) error {
		startTime := time.Now()
		err := handler(ctx, event)
		duration := float64(time.Since(startTime).Microseconds()) / 1000

		eventType, _ := getEventTypeAndID(event)
		attrs := metric.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("handler.name", handlerName),
			attribute.String("status", statusOf(err)),
		)
		p.m.consumeCounter.Add(ctx, 1, attrs)
		p.m.consumeDurationHist.Record(ctx, duration, attrs)

		return err
	}

	return p.next.Subscribe(wrappedHandler, withName(opts, handlerName)...)
}

// Shutdown делегирует вызов следующему провайдеру.
func (p *metricsProvider[T]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// tracingMiddleware реализует BusMiddleware для распределенной трассировки OpenTelemetry.
type tracingMiddleware[T Event] struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware создает middleware для трассировки.
func NewTracingMiddleware[T Event](tp trace.TracerProvider, p propagation.TextMapPropagator) BusMiddleware[T] {
	if tp == nil {
		return &noopMiddleware[T]{}
	}
	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return &tracingMiddleware[T]{
		tracer: tp.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion(instrumentationVersion),
		),
		propagator: p,
	}
}

// Wrap оборачивает провайдер для добавления логики трассировки.
func (m *tracingMiddleware[T]) Wrap(next Provider[T]) Provider[T] {
	return &tracingProvider[T]{next: next, tracer: m.tracer, propagator: m.propagator}
}

// metadatable - это интерфейс для событий, которые могут переносить метаданные.
type metadatable interface {
	Metadata() map[string]string
}

type tracingProvider[T Event] struct {
	next       Provider[T]
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Publish создает спан публикации и инъецирует контекст трассировки в метаданные события.
func (p *tracingProvider[T]) Publish(ctx context.Context, event T) (err error) {
	eventType, eventID := getEventTypeAndID(event)

	ctx, span := p.tracer.Start(ctx, eventType+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", event.Topic()),
			attribute.String("messaging.message.id", eventID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if md, ok := any(event).(metadatable); ok && md.Metadata() != nil {
		p.propagator.Inject(ctx, propagation.MapCarrier(md.Metadata()))
	}

	return p.next.Publish(ctx, event)
}

// Subscribe извлекает контекст трассировки из события и создает дочерний спан обработки.
func (p *tracingProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	wrappedHandler := func(ctx context.Context, event T) (err error) {
		if md, ok := any(event).(metadatable); ok && md.Metadata() != nil {
			ctx = p.propagator.Extract(ctx, propagation.MapCarrier(md.Metadata()))
		}

		eventType, _ := getEventTypeAndID(event)
		ctx, span := p.tracer.Start(ctx, eventType+" process", trace.WithSpanKind(trace.SpanKindConsumer))
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		return handler(ctx, event)
	}

	return p.next.Subscribe(wrappedHandler, opts...)
}

// Shutdown делегирует вызов следующему провайдеру.
func (p *tracingProvider[T]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}

// applyMiddlewares применяет цепочку middleware к базовому провайдеру.
// Первый middleware в списке оказывается внешним.
func applyMiddlewares[T Event](provider Provider[T], middlewares ...BusMiddleware[T]) Provider[T] {
	p := provider
	for i := len(middlewares) - 1; i >= 0; i-- {
		p = middlewares[i].Wrap(p)
	}
	return p
}

// noopMiddleware просто возвращает следующий провайдер.
type noopMiddleware[T Event] struct{}

// Wrap просто возвращает следующий провайдер без изменений.
func (m *noopMiddleware[T]) Wrap(next Provider[T]) Provider[T] {
	return next
}

// withName закрепляет имя подписчика, чтобы обертки ниже по цепочке
// не подменяли его именем анонимной функции.
func withName[T Event](opts []SubscribeOption[T], name string) []SubscribeOption[T] {
	return append(slices.Clone(opts), WithSubscriberName[T](name))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// getEventTypeAndID извлекает тип и ID события с помощью рефлексии.
// Если у события есть строковое поле Kind, оно используется как тип.
func getEventTypeAndID(event any) (string, string) {
	val := reflect.ValueOf(event)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return "nil", "unknown"
		}
		val = val.Elem()
	}

	eventType := val.Type().Name()
	eventID := "unknown"
	if val.Kind() != reflect.Struct {
		return eventType, eventID
	}

	if kindField := val.FieldByName("Kind"); kindField.IsValid() && kindField.Kind() == reflect.String && kindField.String() != "" {
		eventType = kindField.String()
	}
	if idField := val.FieldByName("ID"); idField.IsValid() && idField.CanInterface() {
		eventID = fmt.Sprintf("%v", idField.Interface())
	}

	return eventType, eventID
}

// getHandlerName извлекает имя функции обработчика.
func getHandlerName(handler any) string {
	v := reflect.ValueOf(handler)
	if v.Kind() == reflect.Func {
		if pc := v.Pointer(); pc != 0 {
			if f := runtime.FuncForPC(pc); f != nil {
				return f.Name()
			}
		}
	}
	return reflect.TypeOf(handler).String()
}
