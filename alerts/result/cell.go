package result

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultCellName — логическое имя ячейки результата алертов.
const DefaultCellName = "alerts"

// CellOption настраивает Cell.
type CellOption func(*Cell)

// WithStaleRejection включает отбрасывание устаревших результатов
// (см. ReduceLatest). По умолчанию побеждает последнее пришедшее событие.
func WithStaleRejection() CellOption {
	return func(c *Cell) {
		c.reduce = ReduceLatest
	}
}

// WithCellLogger устанавливает логгер для записи переходов состояния.
func WithCellLogger(logger *slog.Logger) CellOption {
	return func(c *Cell) {
		c.logger = logger
	}
}

// Cell — потокобезопасная ячейка, владеющая одним кешированным результатом.
// События применяются строго по одному.
type Cell struct {
	name   string
	mu     sync.RWMutex
	state  State
	reduce func(State, Event) State
	logger *slog.Logger
}

// NewCell создает ячейку в начальном состоянии.
func NewCell(name string, opts ...CellOption) *Cell {
	if name == "" {
		name = DefaultCellName
	}
	c := &Cell{
		name:   name,
		reduce: Reduce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name возвращает логическое имя ячейки.
func (c *Cell) Name() string { return c.name }

// Load возвращает текущее состояние.
func (c *Cell) Load() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Apply применяет событие и возвращает новое состояние.
func (c *Cell) Apply(ev Event) State {
	c.mu.Lock()
	prev := c.state
	next := c.reduce(prev, ev)
	c.state = next
	c.mu.Unlock()

	if c.logger != nil && ev.Kind.Terminal() {
		if next.Generation == prev.Generation && next.Status == prev.Status && ev.Generation != next.Generation {
			c.logger.Debug("устаревший результат отброшен",
				slog.String("cell", c.name),
				slog.Uint64("generation", ev.Generation),
				slog.Uint64("current_generation", next.Generation),
			)
		} else {
			c.logger.Debug("результат обновлен",
				slog.String("cell", c.name),
				slog.String("kind", string(ev.Kind)),
				slog.String("status", next.Status.String()),
				slog.Uint64("generation", next.Generation),
			)
		}
	}
	return next
}

// Handle позволяет подписать ячейку на шину событий.
func (c *Cell) Handle(_ context.Context, ev Event) error {
	c.Apply(ev)
	return nil
}
