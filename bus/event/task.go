package event

import "context"

// Task — событие и подписка, которой его нужно доставить.
type Task[T Event] struct {
	ctx   context.Context
	event T
	sub   *subscription[T]
}
