// Package handoff provides a single-capacity rendezvous slot that transfers
// ownership of one value between goroutines.
//
// A Slot holds at most one value. Publish blocks while the slot is full, so
// a second publish never overwrites the first; Take blocks while the slot is
// empty. A producer that failed can publish the error instead of a value and
// the taker receives it. After Close, every Publish, Fail and Take returns
// ErrClosed instead of blocking forever.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed slot.
var ErrClosed = errors.New("handoff slot closed")

type item[T any] struct {
	value T
	err   error
}

// Slot is a capacity-1 handoff channel for values of type T.
type Slot[T any] struct {
	name      string
	ch        chan item[T]
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates an empty slot. The name appears in errors.
func New[T any](name string) *Slot[T] {
	return &Slot[T]{
		name:   name,
		ch:     make(chan item[T], 1),
		closed: make(chan struct{}),
	}
}

// Name returns the slot name.
func (s *Slot[T]) Name() string {
	return s.name
}

// Publish hands v to the next Take, blocking while a previous value has not
// been taken.
func (s *Slot[T]) Publish(ctx context.Context, v T) error {
	return s.put(ctx, item[T]{value: v})
}

// Fail hands err to the next Take in place of a value.
func (s *Slot[T]) Fail(ctx context.Context, err error) error {
	if err == nil {
		return fmt.Errorf("handoff %s: Fail called with nil error", s.name)
	}
	return s.put(ctx, item[T]{err: err})
}

func (s *Slot[T]) put(ctx context.Context, it item[T]) error {
	if s.isClosed() {
		return s.closedErr()
	}

	select {
	case s.ch <- it:
		if s.isClosed() {
			// Lost the race with Close; nobody will take it.
			s.drain()
			return s.closedErr()
		}
		return nil
	case <-s.closed:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take waits for a value. If the producer published a failure, Take
// returns that error.
func (s *Slot[T]) Take(ctx context.Context) (T, error) {
	var zero T
	if s.isClosed() {
		return zero, s.closedErr()
	}

	select {
	case it := <-s.ch:
		if it.err != nil {
			return zero, it.err
		}
		return it.value, nil
	case <-s.closed:
		return zero, s.closedErr()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryTake takes a value without blocking. ok is false when the slot is
// empty or closed.
func (s *Slot[T]) TryTake() (v T, ok bool, err error) {
	if s.isClosed() {
		return v, false, s.closedErr()
	}
	select {
	case it := <-s.ch:
		if it.err != nil {
			return v, true, it.err
		}
		return it.value, true, nil
	default:
		return v, false, nil
	}
}

// Full reports whether a value or failure is waiting to be taken.
func (s *Slot[T]) Full() bool {
	return len(s.ch) == 1
}

// Close closes the slot. Pending and future operations return ErrClosed.
// A value still waiting in the slot is returned so the caller can release
// it; ok is false if there was none.
func (s *Slot[T]) Close() (leftover T, ok bool) {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return s.drain()
}

func (s *Slot[T]) drain() (T, bool) {
	var zero T
	select {
	case it := <-s.ch:
		if it.err != nil {
			return zero, false
		}
		return it.value, true
	default:
		return zero, false
	}
}

func (s *Slot[T]) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Slot[T]) closedErr() error {
	return fmt.Errorf("%w: %s", ErrClosed, s.name)
}
