package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry - это потокобезопасный реестр шин событий.
// Для каждого топика существует только один экземпляр шины определенного типа.
type Registry struct {
	mu     sync.RWMutex
	buses  map[string]any
	logger *slog.Logger
}

// NewRegistry создает новый экземпляр реестра шин.
// Логгер используется только для ошибок остановки и может быть nil.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		buses:  make(map[string]any),
		logger: logger,
	}
}

// Bus возвращает строго типизированный экземпляр шины для указанного топика,
// создавая его при первом обращении. Опции применяются только при создании.
func Bus[T Event](r *Registry, topic string, opts ...Option[T]) (IBus[T], error) {
	r.mu.RLock()
	bus, exists := r.buses[topic]
	r.mu.RUnlock()

	if exists {
		return typedBus[T](bus, topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная проверка на случай, если шина была создана во время ожидания блокировки.
	if bus, exists := r.buses[topic]; exists {
		return typedBus[T](bus, topic)
	}

	newBus, err := NewBus(topic, opts...)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать шину для топика '%s': %w", topic, err)
	}

	r.buses[topic] = newBus
	return newBus, nil
}

func typedBus[T Event](bus any, topic string) (IBus[T], error) {
	if typed, ok := bus.(IBus[T]); ok {
		return typed, nil
	}
	return nil, fmt.Errorf("шина для топика '%s' уже существует с другим типом события", topic)
}

// Shutdown корректно завершает работу всех зарегистрированных шин.
// Возвращает объединение ошибок отдельных шин.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for topic, busInstance := range r.buses {
		shutdowner, ok := busInstance.(interface {
			Shutdown(context.Context) error
		})
		if !ok {
			continue
		}
		if err := shutdowner.Shutdown(ctx); err != nil {
			if r.logger != nil {
				r.logger.Error("ошибка при закрытии шины", slog.String("topic", topic), slog.Any("error", err))
			}
			errs = append(errs, fmt.Errorf("топик '%s': %w", topic, err))
		}
	}

	return errors.Join(errs...)
}
