package event

import (
	"context"
	"sync"
)

// workerPool - это пул горутин для асинхронной обработки событий.
type workerPool[T Event] struct {
	workers int
	tasks   chan *Task[T]
	run     func(*Task[T])
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// newWorkerPool создает новый пул воркеров.
func newWorkerPool[T Event](workers, queueSize int, run func(*Task[T])) *workerPool[T] {
	return &workerPool[T]{
		workers: workers,
		tasks:   make(chan *Task[T], queueSize),
		run:     run,
	}
}

// start запускает воркеров пула.
func (p *workerPool[T]) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// submit добавляет задачу в очередь. ctx учитывается только при
// заполненной очереди.
func (p *workerPool[T]) submit(ctx context.Context, task *Task[T]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop закрывает очередь и дожидается, пока воркеры обработают оставшиеся задачи.
func (p *workerPool[T]) stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker - это основная функция горутины-воркера.
func (p *workerPool[T]) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}
