package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/x-research-team/alertlookup/alerts/result"
	"github.com/x-research-team/alertlookup/alerts/selector"
	"github.com/x-research-team/alertlookup/bus/event"
	"github.com/x-research-team/alertlookup/bus/query"
)

// QueryName — имя диспетчера запросов, через который выполняется выборка.
const QueryName = "alerts.fetch"

// ErrClosed возвращается при отправке запроса в остановленный диспетчер.
var ErrClosed = errors.New("диспетчер запросов алертов остановлен")

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLogger устанавливает логгер диспетчера.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithID задает идентификатор диспетчера, которым помечаются его события.
func WithID(id string) Option {
	return func(d *Dispatcher) {
		if id != "" {
			d.id = id
		}
	}
}

// Dispatcher присваивает запросу поколение, публикует FETCH_ALERTS и в фоне
// доводит цикл до одного завершающего события.
type Dispatcher struct {
	events  event.IBus[result.Event]
	queries query.IDispatcher[selector.Request, Response]
	logger  *slog.Logger
	id      string

	gen    atomic.Uint64
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New создает диспетчер. Обработчик выборки должен быть зарегистрирован в queries.
func New(events event.IBus[result.Event], queries query.IDispatcher[selector.Request, Response], opts ...Option) *Dispatcher {
	d := &Dispatcher{
		events:  events,
		queries: queries,
		logger:  slog.New(slog.DiscardHandler),
		id:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch отправляет запрос и возвращает его с присвоенным поколением.
// Выборка не зависит от отмены ctx: после возврата цикл завершится сам.
func (d *Dispatcher) Dispatch(ctx context.Context, req selector.Request) (selector.Request, error) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return req, ErrClosed
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	req = req.WithGeneration(d.gen.Add(1))
	if err := d.events.Publish(ctx, d.stamp(result.Fetch(req.Generation, req.String()))); err != nil {
		d.wg.Done()
		return req, fmt.Errorf("не удалось опубликовать начало запроса '%s': %w", req, err)
	}

	go d.run(ctx, req)
	return req, nil
}

func (d *Dispatcher) run(ctx context.Context, req selector.Request) {
	defer d.wg.Done()

	var once sync.Once
	finish := func(ev result.Event) {
		once.Do(func() {
			if err := d.events.Publish(ctx, d.stamp(ev)); err != nil {
				d.logger.Error("не удалось опубликовать результат запроса",
					slog.Uint64("generation", req.Generation),
					slog.String("path", req.String()),
					slog.String("kind", string(ev.Kind)),
					slog.Any("error", err),
				)
			}
		})
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("паника при выполнении запроса",
				slog.Uint64("generation", req.Generation),
				slog.String("path", req.String()),
				slog.Any("error", r),
			)
			finish(result.Fail(req.Generation, req.String()))
		}
	}()

	resp, err := d.queries.Dispatch(ctx, req)
	if err != nil {
		d.logger.Warn("запрос алертов завершился ошибкой",
			slog.Uint64("generation", req.Generation),
			slog.String("path", req.String()),
			slog.Any("error", err),
		)
	}
	finish(Outcome(req, resp, err))
}

// ID возвращает идентификатор, которым помечены события диспетчера.
func (d *Dispatcher) ID() string {
	return d.id
}

// Owns сообщает, отправлено ли событие этим диспетчером. Подписчики общей
// шины используют его как фильтр.
func (d *Dispatcher) Owns(ev result.Event) bool {
	return ev.Source == d.id
}

func (d *Dispatcher) stamp(ev result.Event) result.Event {
	ev.Source = d.id
	return ev
}

// Generation возвращает последнее присвоенное поколение.
func (d *Dispatcher) Generation() uint64 {
	return d.gen.Load()
}

// Wait ждет завершения всех отправленных запросов.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("не дождались завершения запросов: %w", ctx.Err())
	}
}

// Shutdown запрещает новые запросы и ждет завершения текущих.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Wait(ctx)
}

// Register регистрирует f как обработчик выборки в queries.
func Register(queries query.IDispatcher[selector.Request, Response], f Fetcher) error {
	if err := queries.Register(f.Fetch); err != nil {
		return fmt.Errorf("не удалось зарегистрировать выборку алертов: %w", err)
	}
	return nil
}
