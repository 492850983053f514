// Package query реализует типобезопасную шину запросов: один обработчик на
// тип запроса, синхронная диспетчеризация и общий набор middleware
// (логирование, метрики, трассировка).
package query

import "context"

// Query представляет собой интерфейс-маркер для запроса, параметризованный
// типом возвращаемого значения R.
type Query[R any] interface{}

// QueryHandler определяет строго типизированную функцию-обработчик для запроса Q,
// которая возвращает результат типа R.
type QueryHandler[Q Query[R], R any] func(ctx context.Context, q Q) (R, error)

// Metadatable определяет интерфейс для запросов, которые могут нести метаданные.
type Metadatable interface {
	Metadata() map[string]string
}
