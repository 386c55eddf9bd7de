// Package transfer implements single-use ownership handoff between a producer
// and a consumer that do not otherwise share state.
//
// A producer wraps a value with Give and hands the resulting ticket across the
// boundary. From then on only the ticket exists for the producer; the consumer
// calls Reclaim exactly once to take the value back out. Any further Reclaim
// fails with ErrReclaimed, so a ticket that is handed over twice is still
// consumed only once.
package transfer

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrReclaimed is returned when a ticket's value has already been taken.
var ErrReclaimed = errors.New("transfer: ticket already reclaimed")

// ErrNilTicket is returned when Reclaim is called on a nil ticket.
var ErrNilTicket = errors.New("transfer: nil ticket")

// Ticket carries one value of type T from its producer to a single consumer.
type Ticket[T any] struct {
	id    uuid.UUID
	value atomic.Pointer[T]
}

// Give moves v into a new ticket.
func Give[T any](v T) *Ticket[T] {
	t := &Ticket[T]{id: uuid.New()}
	t.value.Store(&v)
	return t
}

// ID identifies the ticket in diagnostics.
func (t *Ticket[T]) ID() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.id
}

// Reclaim takes the value out of the ticket. Only the first call succeeds,
// even when several goroutines race for it.
func (t *Ticket[T]) Reclaim() (T, error) {
	var zero T
	if t == nil {
		return zero, ErrNilTicket
	}
	p := t.value.Swap(nil)
	if p == nil {
		return zero, ErrReclaimed
	}
	return *p, nil
}

// Claimed reports whether the value has been taken.
func (t *Ticket[T]) Claimed() bool {
	return t == nil || t.value.Load() == nil
}
