package result

import "encoding/json"

// FailureSentinel — фиксированное значение для неклассифицированного сбоя.
const FailureSentinel = "uncaught error"

// Status — дискриминант кешированного значения.
type Status int

const (
	// StatusEmpty — начальное состояние, ничего еще не получено.
	StatusEmpty Status = iota
	StatusSuccess
	StatusError
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusFailure:
		return "failure"
	default:
		return "empty"
	}
}

// State — кешированный результат последнего завершенного запроса.
// Нулевое значение соответствует начальному состоянию.
type State struct {
	Status     Status
	Payload    json.RawMessage
	Message    string
	Generation uint64
}

// Value возвращает значение без дискриминанта: nil, полезную нагрузку,
// сообщение об ошибке или FailureSentinel.
func (s State) Value() any {
	switch s.Status {
	case StatusSuccess:
		return s.Payload
	case StatusError, StatusFailure:
		return s.Message
	default:
		return nil
	}
}

// Reduce применяет событие к состоянию. Завершающие события полностью
// заменяют состояние, остальные возвращают его без изменений.
func Reduce(state State, ev Event) State {
	switch ev.Kind {
	case KindOK:
		return State{Status: StatusSuccess, Payload: ev.Payload, Generation: ev.Generation}
	case KindError:
		return State{Status: StatusError, Message: ev.Message, Generation: ev.Generation}
	case KindFail:
		return State{Status: StatusFailure, Message: FailureSentinel, Generation: ev.Generation}
	default:
		return state
	}
}

// ReduceLatest ведет себя как Reduce, но игнорирует завершающие события,
// поколение которых меньше поколения текущего состояния. События без
// поколения (ноль) применяются всегда.
func ReduceLatest(state State, ev Event) State {
	if ev.Kind.Terminal() && ev.Generation != 0 && ev.Generation < state.Generation {
		return state
	}
	return Reduce(state, ev)
}
