package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Тестовые события ---

type lookupEvent struct {
	ID    string
	Kind  string
	Value int
	topic string
	meta  map[string]string
}

func (e lookupEvent) Topic() string               { return e.topic }
func (e lookupEvent) Metadata() map[string]string { return e.meta }

type otherEvent struct {
	topic string
}

func (e otherEvent) Topic() string { return e.topic }

func newTestBus(t *testing.T, topic string, opts ...Option[lookupEvent]) IBus[lookupEvent] {
	t.Helper()
	bus, err := NewBus(topic, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, bus.Shutdown(context.Background()))
	})
	return bus
}

// --- Тесты ---

func TestRegistry_Bus(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	t.Cleanup(func() {
		require.NoError(t, registry.Shutdown(context.Background()))
	})

	t.Run("получение существующей шины", func(t *testing.T) {
		bus1, err := Bus[lookupEvent](registry, "alerts.same")
		require.NoError(t, err)
		bus2, err := Bus[lookupEvent](registry, "alerts.same")
		require.NoError(t, err)
		assert.Same(t, bus1, bus2, "должен возвращаться один и тот же экземпляр шины")
	})

	t.Run("ошибка при другом типе для того же топика", func(t *testing.T) {
		_, err := Bus[lookupEvent](registry, "alerts.conflict")
		require.NoError(t, err)

		_, err = Bus[otherEvent](registry, "alerts.conflict")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "уже существует с другим типом события")
	})

	t.Run("пустой топик", func(t *testing.T) {
		_, err := Bus[lookupEvent](registry, "")
		require.Error(t, err)
	})
}

func TestBus_PublishSubscribe_Sync(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.sync")

	var received lookupEvent
	unsubscribe, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		received = e
		return nil
	})
	require.NoError(t, err)
	defer unsubscribe()

	ev := lookupEvent{ID: "1", Kind: "FETCH_ALERTS_OK", topic: "alerts.sync"}
	require.NoError(t, bus.Publish(context.Background(), ev))

	// Синхронный подписчик отрабатывает до возврата из Publish.
	assert.Equal(t, ev, received)
}

func TestBus_PublishSubscribe_Async(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.async")

	var wg sync.WaitGroup
	wg.Add(1)
	var received lookupEvent
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		received = e
		return nil
	}, WithAsync[lookupEvent]())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ev := lookupEvent{ID: "2", topic: "alerts.async"}
	require.NoError(t, bus.Publish(ctx, ev))
	cancel()

	wg.Wait()
	assert.Equal(t, ev, received)
}

func TestBus_Async_CancelledContextWithFreeQueue(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.async.cancelled")

	var mu sync.Mutex
	delivered := 0
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}, WithAsync[lookupEvent]())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Publish(ctx, lookupEvent{ID: fmt.Sprint(i), topic: "alerts.async.cancelled"}),
			"при свободной очереди отмененный контекст не должен мешать публикации")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == n
	}, time.Second, 5*time.Millisecond)
}

func TestBus_Async_CancelledContextWithFullQueue(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.async.full", WithWorkerPool[lookupEvent](1, 1))

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		started <- struct{}{}
		<-release
		return nil
	}, WithAsync[lookupEvent]())
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), lookupEvent{ID: "1", topic: "alerts.async.full"}))
	<-started
	require.NoError(t, bus.Publish(context.Background(), lookupEvent{ID: "2", topic: "alerts.async.full"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = bus.Publish(ctx, lookupEvent{ID: "3", topic: "alerts.async.full"})
	assert.ErrorIs(t, err, context.Canceled, "при заполненной очереди публикация прерывается отменой контекста")

	close(release)
}

func TestBus_SerialDelivery(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.serial")

	var inFlight, maxInFlight, count atomic.Int32
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		count.Add(1)
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, bus.Publish(context.Background(), lookupEvent{Value: i, topic: "alerts.serial"}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), count.Load())
	assert.Equal(t, int32(1), maxInFlight.Load(), "синхронные обработчики не должны выполняться параллельно")
}

func TestBus_Filter(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.filter")

	var kinds []string
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		kinds = append(kinds, e.Kind)
		return nil
	}, WithFilter(func(e lookupEvent) bool { return e.Kind != "FETCH_ALERTS" }))
	require.NoError(t, err)

	for _, kind := range []string{"FETCH_ALERTS", "FETCH_ALERTS_OK", "FETCH_ALERTS", "FETCH_ALERTS_FAIL"} {
		require.NoError(t, bus.Publish(context.Background(), lookupEvent{Kind: kind, topic: "alerts.filter"}))
	}

	assert.Equal(t, []string{"FETCH_ALERTS_OK", "FETCH_ALERTS_FAIL"}, kinds)
}

func TestBus_Middleware(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.middleware")

	var calls []string
	mw := func(name string) Middleware[lookupEvent] {
		return func(next EventHandler[lookupEvent]) EventHandler[lookupEvent] {
			return func(ctx context.Context, e lookupEvent) error {
				calls = append(calls, name)
				return next(ctx, e)
			}
		}
	}

	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		calls = append(calls, "handler")
		return nil
	}, WithMiddleware(mw("first"), mw("second")))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), lookupEvent{topic: "alerts.middleware"}))
	assert.Equal(t, []string{"first", "second", "handler"}, calls)
}

func TestBus_ErrorHandler(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.error")

	t.Run("ошибка обработчика", func(t *testing.T) {
		handlerErr := errors.New("ошибка в обработчике")
		var receivedErr error
		var receivedEvent lookupEvent

		unsubscribe, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
			return handlerErr
		}, WithErrorHandler(func(err error, e lookupEvent) {
			receivedErr = err
			receivedEvent = e
		}))
		require.NoError(t, err)
		defer unsubscribe()

		ev := lookupEvent{ID: "err-1", topic: "alerts.error"}
		require.NoError(t, bus.Publish(context.Background(), ev))

		assert.ErrorIs(t, receivedErr, handlerErr)
		assert.Equal(t, ev, receivedEvent)
	})

	t.Run("паника обработчика", func(t *testing.T) {
		var receivedErr error
		unsubscribe, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
			panic("boom")
		}, WithErrorHandler(func(err error, e lookupEvent) {
			receivedErr = err
		}), WithSubscriberName[lookupEvent]("panicky"))
		require.NoError(t, err)
		defer unsubscribe()

		require.NoError(t, bus.Publish(context.Background(), lookupEvent{topic: "alerts.error"}))
		require.Error(t, receivedErr)
		assert.Contains(t, receivedErr.Error(), "panicky")
		assert.Contains(t, receivedErr.Error(), "boom")
	})
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.unsubscribe")

	var count int
	unsubscribe, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		count++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), lookupEvent{topic: "alerts.unsubscribe"}))
	unsubscribe()
	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), lookupEvent{topic: "alerts.unsubscribe"}))

	assert.Equal(t, 1, count)
}

func TestBus_TopicMismatch(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, "alerts.topic")
	err := bus.Publish(context.Background(), lookupEvent{topic: "other.topic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "other.topic")
}

func TestRegistry_Shutdown(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil)
	bus, err := Bus[lookupEvent](registry, "shutdown.test.1")
	require.NoError(t, err)
	_, err = Bus[otherEvent](registry, "shutdown.test.2")
	require.NoError(t, err)

	var handled atomic.Bool
	_, err = bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		time.Sleep(5 * time.Millisecond)
		handled.Store(true)
		return nil
	}, WithAsync[lookupEvent]())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), lookupEvent{topic: "shutdown.test.1"}))

	require.NoError(t, registry.Shutdown(context.Background()))
	assert.True(t, handled.Load(), "Shutdown должен дождаться асинхронных обработчиков")

	err = bus.Publish(context.Background(), lookupEvent{topic: "shutdown.test.1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBus_WithProvider(t *testing.T) {
	t.Parallel()

	mock := &mockProvider[lookupEvent]{
		publishFunc: func(ctx context.Context, e lookupEvent) error {
			assert.Equal(t, "provider-123", e.ID)
			return nil
		},
	}

	bus, err := NewBus("alerts.provider", WithProvider[lookupEvent](mock))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), lookupEvent{ID: "provider-123", topic: "alerts.provider"}))
	require.NoError(t, bus.Shutdown(context.Background()))

	assert.True(t, mock.publishCalled, "метод Publish у mock-провайдера должен быть вызван")
	assert.True(t, mock.shutdownCalled, "метод Shutdown у mock-провайдера должен быть вызван")
}

func TestBus_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	bus := newTestBus(t, "alerts.metrics", WithMeterProvider[lookupEvent](mp))
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error {
		if e.Kind == "FETCH_ALERTS_FAIL" {
			return fmt.Errorf("fail")
		}
		return nil
	}, WithSubscriberName[lookupEvent]("cell"), WithErrorHandler(func(error, lookupEvent) {}))
	require.NoError(t, err)

	for _, kind := range []string{"FETCH_ALERTS_OK", "FETCH_ALERTS_OK", "FETCH_ALERTS_FAIL"} {
		require.NoError(t, bus.Publish(context.Background(), lookupEvent{Kind: kind, topic: "alerts.metrics"}))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(3), sumCounter(t, rm, "messaging.publish.count", nil))
	assert.Equal(t, int64(2), sumCounter(t, rm, "messaging.consume.count", map[string]string{
		"event.type":   "FETCH_ALERTS_OK",
		"handler.name": "cell",
		"status":       "success",
	}))
	assert.Equal(t, int64(1), sumCounter(t, rm, "messaging.consume.count", map[string]string{
		"event.type": "FETCH_ALERTS_FAIL",
		"status":     "error",
	}))
}

func TestBus_Tracing(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	bus := newTestBus(t, "alerts.tracing", WithTracerProvider[lookupEvent](tp))
	_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error { return nil })
	require.NoError(t, err)

	ev := lookupEvent{Kind: "FETCH_ALERTS_OK", topic: "alerts.tracing", meta: map[string]string{}}
	require.NoError(t, bus.Publish(context.Background(), ev))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	names := []string{spans[0].Name(), spans[1].Name()}
	assert.ElementsMatch(t, []string{"FETCH_ALERTS_OK publish", "FETCH_ALERTS_OK process"}, names)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Contains(t, ev.meta, "traceparent", "контекст трассировки должен попасть в метаданные события")
}

func TestGetEventTypeAndID(t *testing.T) {
	t.Parallel()

	typ, id := getEventTypeAndID(lookupEvent{ID: "abc", Kind: "FETCH_ALERTS"})
	assert.Equal(t, "FETCH_ALERTS", typ)
	assert.Equal(t, "abc", id)

	typ, id = getEventTypeAndID(&otherEvent{})
	assert.Equal(t, "otherEvent", typ)
	assert.Equal(t, "unknown", id)
}

// sumCounter суммирует точки счетчика, атрибуты которых содержат want.
func sumCounter(t *testing.T, rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	t.Helper()

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "метрика %s должна быть счетчиком int64", name)
			for _, dp := range sum.DataPoints {
				if matches(dp.Attributes.ToSlice(), want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func matches(attrs []attribute.KeyValue, want map[string]string) bool {
	found := 0
	for _, kv := range attrs {
		if v, ok := want[string(kv.Key)]; ok && v == kv.Value.AsString() {
			found++
		}
	}
	return found == len(want)
}

// --- Mock Provider ---

type mockProvider[T Event] struct {
	publishFunc    func(ctx context.Context, event T) error
	publishCalled  bool
	shutdownCalled bool
}

func (m *mockProvider[T]) Publish(ctx context.Context, event T) error {
	m.publishCalled = true
	if m.publishFunc != nil {
		return m.publishFunc(ctx, event)
	}
	return nil
}

func (m *mockProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (func(), error) {
	return func() {}, nil
}

func (m *mockProvider[T]) Shutdown(ctx context.Context) error {
	m.shutdownCalled = true
	return nil
}

// --- Тесты производительности ---

func benchmarkPublish(b *testing.B, numSubscribers int, async bool) {
	bus, err := NewBus[lookupEvent]("bench")
	if err != nil {
		b.Fatalf("не удалось создать шину: %v", err)
	}
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var opts []SubscribeOption[lookupEvent]
	if async {
		opts = append(opts, WithAsync[lookupEvent]())
	}
	for i := 0; i < numSubscribers; i++ {
		name := fmt.Sprintf("subscriber-%d", i)
		_, err := bus.Subscribe(func(ctx context.Context, e lookupEvent) error { return nil },
			append(opts, WithSubscriberName[lookupEvent](name))...)
		if err != nil {
			b.Fatalf("не удалось подписаться: %v", err)
		}
	}

	ev := lookupEvent{topic: "bench"}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := bus.Publish(context.Background(), ev); err != nil {
				b.Errorf("ошибка публикации: %v", err)
			}
		}
	})
}

func BenchmarkPublish_Sync_OneSubscriber(b *testing.B)        { benchmarkPublish(b, 1, false) }
func BenchmarkPublish_Sync_MultipleSubscribers(b *testing.B)  { benchmarkPublish(b, 100, false) }
func BenchmarkPublish_Async_OneSubscriber(b *testing.B)       { benchmarkPublish(b, 1, true) }
func BenchmarkPublish_Async_MultipleSubscribers(b *testing.B) { benchmarkPublish(b, 100, true) }
