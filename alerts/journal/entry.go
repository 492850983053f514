// Package journal ведет журнал завершенных циклов запроса алертов.
//
// Журнал не влияет на кешированный результат: он только записывает, какой
// запрос и с каким исходом завершился.
package journal

import (
	"time"

	"github.com/google/uuid"

	"github.com/x-research-team/alertlookup/alerts/result"
)

// Entry — запись об одном завершенном цикле. Message заполняется только
// для FETCH_ALERTS_ERROR.
type Entry struct {
	ID         uuid.UUID   `json:"id"`
	EventID    string      `json:"event_id"`
	Generation uint64      `json:"generation"`
	Kind       result.Kind `json:"kind"`
	Path       string      `json:"path"`
	Message    string      `json:"message,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func newEntry(ev result.Event, now time.Time) *Entry {
	return &Entry{
		ID:         uuid.New(),
		EventID:    ev.ID,
		Generation: ev.Generation,
		Kind:       ev.Kind,
		Path:       ev.Path,
		Message:    ev.Message,
		CreatedAt:  now,
	}
}
