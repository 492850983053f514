package event

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscription хранит обработчик и примененные к нему опции.
type subscription[T Event] struct {
	// id используется для безопасной отписки.
	id           string
	name         string
	handler      EventHandler[T]
	isAsync      bool
	errorHandler ErrorHandler[T]
	filter       func(T) bool
}

// LocalProvider обрабатывает события в рамках одного процесса.
//
// Синхронные подписчики вызываются под общим мьютексом доставки: события
// сворачиваются строго по одному в порядке захвата мьютекса публикующими
// горутинами. Синхронный обработчик не должен публиковать в ту же шину.
type LocalProvider[T Event] struct {
	topic  string
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []*subscription[T]

	deliverMu sync.Mutex
	pool      *workerPool[T]
	closed    atomic.Bool
}

// NewLocalProvider создает новый экземпляр LocalProvider и запускает пул воркеров.
func NewLocalProvider[T Event](topic string, cfg *config[T]) (*LocalProvider[T], error) {
	if cfg == nil {
		cfg = newConfig[T](nil)
	}

	lp := &LocalProvider[T]{
		topic:  topic,
		logger: cfg.logger,
	}
	lp.pool = newWorkerPool(cfg.workers, cfg.queueSize, lp.invoke)
	lp.pool.start()
	return lp, nil
}

// Publish публикует событие для всех подписчиков.
func (lp *LocalProvider[T]) Publish(ctx context.Context, event T) error {
	if lp.closed.Load() {
		return ErrClosed
	}

	lp.mu.RLock()
	subs := lp.subscribers
	lp.mu.RUnlock()

	lp.deliverMu.Lock()
	for _, sub := range subs {
		if !sub.isAsync {
			lp.invoke(&Task[T]{ctx: ctx, event: event, sub: sub})
		}
	}
	lp.deliverMu.Unlock()

	for _, sub := range subs {
		if !sub.isAsync {
			continue
		}
		// Асинхронный обработчик переживает вызов Publish.
		task := &Task[T]{ctx: context.WithoutCancel(ctx), event: event, sub: sub}
		if err := lp.pool.submit(ctx, task); err != nil {
			if lp.logger != nil {
				lp.logger.Warn("не удалось отправить асинхронную задачу в пул",
					slog.String("topic", lp.topic),
					slog.String("handler_name", sub.name),
					slog.Any("error", err),
				)
			}
			return fmt.Errorf("не удалось отправить событие подписчику '%s': %w", sub.name, err)
		}
	}

	return nil
}

// Subscribe подписывает обработчик на события.
func (lp *LocalProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	if lp.closed.Load() {
		return nil, ErrClosed
	}

	subOpts := newSubscriptionOptions(opts)

	finalHandler := handler
	for i := len(subOpts.middleware) - 1; i >= 0; i-- {
		finalHandler = subOpts.middleware[i](finalHandler)
	}

	name := subOpts.name
	if name == "" {
		name = getHandlerName(handler)
	}

	sub := &subscription[T]{
		id:           uuid.NewString(),
		name:         name,
		handler:      finalHandler,
		isAsync:      subOpts.isAsync,
		errorHandler: subOpts.errorHandler,
		filter:       subOpts.filter,
	}

	lp.mu.Lock()
	// Копирование при записи: Publish читает срез без блокировки на время доставки.
	lp.subscribers = append(slices.Clip(lp.subscribers), sub)
	lp.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lp.mu.Lock()
			defer lp.mu.Unlock()
			lp.subscribers = slices.DeleteFunc(slices.Clone(lp.subscribers), func(s *subscription[T]) bool {
				return s.id == sub.id
			})
		})
	}, nil
}

// Shutdown останавливает прием событий и дожидается асинхронных обработчиков.
func (lp *LocalProvider[T]) Shutdown(ctx context.Context) error {
	lp.closed.Store(true)
	if err := lp.pool.stop(ctx); err != nil {
		return fmt.Errorf("не удалось дождаться асинхронных обработчиков топика '%s': %w", lp.topic, err)
	}
	return nil
}

// invoke вызывает обработчик подписки, перехватывая панику.
func (lp *LocalProvider[T]) invoke(task *Task[T]) {
	sub := task.sub
	if sub.filter != nil && !sub.filter(task.event) {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("паника в обработчике '%s': %v", sub.name, r)
			}
		}()
		return sub.handler(task.ctx, task.event)
	}()
	if err == nil {
		return
	}

	if sub.errorHandler != nil {
		sub.errorHandler(err, task.event)
		return
	}
	if lp.logger != nil {
		lp.logger.Error("необработанная ошибка подписчика",
			slog.String("topic", lp.topic),
			slog.String("handler_name", sub.name),
			slog.Any("error", err),
		)
	}
}
