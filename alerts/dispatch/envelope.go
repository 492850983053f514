// Package dispatch отправляет запрос алертов во внешний каталог и
// публикует ровно одно завершающее событие на каждый отправленный запрос.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/x-research-team/alertlookup/alerts/result"
	"github.com/x-research-team/alertlookup/alerts/selector"
)

// StatusSuccess — значение поля status успешного ответа каталога.
const StatusSuccess = "success"

// Response — конверт ответа каталога.
type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Succeeded сообщает, что каталог вернул успешный ответ.
func (r Response) Succeeded() bool { return r.Status == StatusSuccess }

// ServiceError — ошибка, о которой сообщил сам каталог. Message передается
// пользователю без изменений.
type ServiceError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("каталог вернул ошибку (HTTP %d, status=%q): %s", e.StatusCode, e.Status, e.Message)
}

// Outcome превращает результат выборки в завершающее событие. Ошибка
// сервиса дает ERROR с сообщением, любая другая ошибка дает FAIL.
func Outcome(req selector.Request, resp Response, err error) result.Event {
	path := req.String()
	if err == nil {
		return result.OK(req.Generation, path, resp.Data)
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return result.Error(req.Generation, path, svcErr.Message)
	}
	return result.Fail(req.Generation, path)
}
