package journal

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/x-research-team/alertlookup/alerts/result"
)

const (
	// DefaultInterval — период сброса накопленных записей в хранилище.
	DefaultInterval = 5 * time.Second
	// DefaultBatchSize — число записей, при котором сброс выполняется сразу.
	DefaultBatchSize = 100
	// DefaultMaxPending — предел очереди несохраненных записей. Сверх него
	// отбрасываются самые старые.
	DefaultMaxPending = 10000
)

// Option определяет функцию для конфигурации Journal.
type Option func(*Journal)

// WithInterval устанавливает период фонового сброса.
func WithInterval(interval time.Duration) Option {
	return func(j *Journal) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// WithBatchSize устанавливает размер пачки, при котором сброс выполняется сразу.
func WithBatchSize(size int) Option {
	return func(j *Journal) {
		if size > 0 {
			j.batchSize = size
		}
	}
}

// WithMaxPending ограничивает очередь записей, ожидающих сброса.
func WithMaxPending(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.maxPending = n
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithClock подменяет часы, которыми размечаются записи.
func WithClock(clock Clock) Option {
	return func(j *Journal) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// Journal накапливает записи о завершенных циклах и пачками сбрасывает их
// в Storage: по таймеру, при заполнении пачки и при остановке.
type Journal struct {
	storage    Storage
	clock      Clock
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	maxPending int

	mu      sync.Mutex
	pending []*Entry

	flushMu  sync.Mutex
	lifeMu   sync.Mutex
	done     chan struct{}
	loopDone chan struct{}
}

// New создает журнал поверх storage.
func New(storage Storage, opts ...Option) *Journal {
	j := &Journal{
		storage:    storage,
		clock:      RealClock{},
		logger:     slog.New(slog.DiscardHandler),
		interval:   DefaultInterval,
		batchSize:  DefaultBatchSize,
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Handle записывает завершающее событие. Остальные события пропускаются.
// Сигнатура совпадает с обработчиком шины событий.
func (j *Journal) Handle(ctx context.Context, ev result.Event) error {
	if !ev.Kind.Terminal() {
		return nil
	}

	j.mu.Lock()
	j.pending = append(j.pending, newEntry(ev, j.clock.Now()))
	dropped := j.trimLocked()
	full := len(j.pending) >= j.batchSize
	j.mu.Unlock()
	j.logDropped(dropped)

	if full {
		return j.Flush(ctx)
	}
	return nil
}

// Flush сбрасывает накопленные записи в хранилище. При ошибке записи
// возвращаются в очередь и будут отправлены при следующем сбросе; очередь
// не растет сверх WithMaxPending.
func (j *Journal) Flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := j.storage.Save(ctx, batch...); err != nil {
		j.mu.Lock()
		j.pending = append(batch, j.pending...)
		dropped := j.trimLocked()
		j.mu.Unlock()
		j.logDropped(dropped)
		return fmt.Errorf("не удалось сохранить %d записей журнала: %w", len(batch), err)
	}

	j.logger.Debug("записи журнала сохранены", slog.Int("count", len(batch)))
	return nil
}

// trimLocked отбрасывает самые старые записи сверх предела и возвращает их
// число. Вызывается под j.mu.
func (j *Journal) trimLocked() int {
	over := len(j.pending) - j.maxPending
	if over <= 0 {
		return 0
	}
	j.pending = slices.Clone(j.pending[over:])
	return over
}

func (j *Journal) logDropped(n int) {
	if n == 0 {
		return
	}
	j.logger.Warn("очередь журнала переполнена, старые записи отброшены",
		slog.Int("dropped", n),
		slog.Int("max_pending", j.maxPending),
	)
}

// Pending возвращает число записей, ожидающих сброса.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Recent возвращает последние сохраненные записи, новые первыми.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	entries, err := j.storage.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать журнал: %w", err)
	}
	return entries, nil
}

// Start запускает фоновый сброс. Повторный вызов ничего не делает.
func (j *Journal) Start() {
	j.lifeMu.Lock()
	defer j.lifeMu.Unlock()

	if j.done != nil {
		return
	}
	j.done = make(chan struct{})
	j.loopDone = make(chan struct{})

	go j.loop(j.done, j.loopDone)
}

func (j *Journal) loop(done <-chan struct{}, loopDone chan<- struct{}) {
	defer close(loopDone)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("журнал запросов запущен", slog.Duration("interval", j.interval))
	for {
		select {
		case <-ticker.C:
			if err := j.Flush(context.Background()); err != nil {
				j.logger.Error("ошибка при сбросе журнала", slog.Any("error", err))
			}
		case <-done:
			j.logger.Info("журнал запросов остановлен")
			return
		}
	}
}

// Stop останавливает фоновый сброс и сохраняет оставшиеся записи.
func (j *Journal) Stop(ctx context.Context) error {
	j.lifeMu.Lock()
	done, loopDone := j.done, j.loopDone
	j.done, j.loopDone = nil, nil
	j.lifeMu.Unlock()

	if done != nil {
		close(done)
		select {
		case <-loopDone:
		case <-ctx.Done():
			return fmt.Errorf("не дождались остановки журнала: %w", ctx.Err())
		}
	}

	return j.Flush(ctx)
}
