// Package result сворачивает события жизненного цикла запроса алертов
// в одно кешированное значение.
//
// Reduce — чистая функция (состояние, событие) -> состояние. Cell — явно
// владеемая ячейка, которая хранит текущее значение и применяет к нему
// события по одному.
package result

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Topic — имя топика шины, по которому передаются события жизненного цикла.
const Topic = "alerts.fetch"

// Kind — тип события жизненного цикла.
type Kind string

const (
	// KindFetch публикуется при отправке запроса. Редьюсер его игнорирует.
	KindFetch Kind = "FETCH_ALERTS"
	// KindOK — успешный ответ сервиса с полезной нагрузкой.
	KindOK Kind = "FETCH_ALERTS_OK"
	// KindError — ошибка сервиса с сообщением для пользователя.
	KindError Kind = "FETCH_ALERTS_ERROR"
	// KindFail — неклассифицированный сбой без подробностей.
	KindFail Kind = "FETCH_ALERTS_FAIL"
)

// Terminal сообщает, является ли тип события завершающим для цикла запроса.
func (k Kind) Terminal() bool {
	switch k {
	case KindOK, KindError, KindFail:
		return true
	}
	return false
}

// Event — событие жизненного цикла одного запроса.
type Event struct {
	ID         string
	Kind       Kind
	Generation uint64
	// Source — идентификатор диспетчера, отправившего запрос. Поколения
	// сравнимы только в пределах одного источника.
	Source  string
	Path    string
	Payload json.RawMessage
	Message string
	// Meta переносит контекст трассировки между публикацией и обработкой.
	Meta map[string]string
}

// Topic реализует event.Event.
func (Event) Topic() string { return Topic }

// Metadata возвращает метаданные события.
func (e Event) Metadata() map[string]string { return e.Meta }

func newEvent(kind Kind, gen uint64, path string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Generation: gen,
		Path:       path,
		Meta:       make(map[string]string, 2),
	}
}

// Fetch создает событие начала запроса.
func Fetch(gen uint64, path string) Event {
	return newEvent(KindFetch, gen, path)
}

// OK создает событие успешного ответа.
func OK(gen uint64, path string, payload json.RawMessage) Event {
	ev := newEvent(KindOK, gen, path)
	ev.Payload = payload
	return ev
}

// Error создает событие ошибки сервиса.
func Error(gen uint64, path, message string) Event {
	ev := newEvent(KindError, gen, path)
	ev.Message = message
	return ev
}

// Fail создает событие неклассифицированного сбоя.
func Fail(gen uint64, path string) Event {
	return newEvent(KindFail, gen, path)
}
