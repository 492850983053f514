package journal

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity — число записей, которое хранит MemoryStorage по умолчанию.
const DefaultMemoryCapacity = 1000

// Storage определяет контракт для хранения записей журнала.
// Все операции должны быть потокобезопасными.
type Storage interface {
	// Save сохраняет пачку записей.
	Save(ctx context.Context, entries ...*Entry) error

	// Recent возвращает не более limit последних записей, новые первыми.
	// При limit <= 0 возвращаются все записи, которые хранит бэкенд.
	Recent(ctx context.Context, limit int) ([]*Entry, error)
}

// MemoryStorage хранит последние записи в памяти процесса.
type MemoryStorage struct {
	mu       sync.RWMutex
	entries  []*Entry
	capacity int
}

// NewMemoryStorage создает хранилище на capacity записей.
// Непозитивная емкость заменяется DefaultMemoryCapacity.
func NewMemoryStorage(capacity int) *MemoryStorage {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStorage{capacity: capacity}
}

// Save реализует Storage. Старые записи вытесняются при переполнении.
func (s *MemoryStorage) Save(_ context.Context, entries ...*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entries...)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// Recent реализует Storage.
func (s *MemoryStorage) Recent(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]*Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := *s.entries[i]
		out = append(out, &e)
	}
	return out, nil
}
