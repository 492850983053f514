package journal

import (
	"sync"
	"time"
)

// Clock отдает текущее время для меток записей журнала.
type Clock interface {
	Now() time.Time
}

// RealClock использует системное время.
type RealClock struct{}

// Now возвращает текущее время в UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// MockClock — управляемые часы для тестов.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMockClock создает часы, остановленные на start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

// Now возвращает установленное время.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance сдвигает часы на d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}
