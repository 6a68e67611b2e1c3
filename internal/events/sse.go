package events

import (
	"sync"
	"sync/atomic"
)

// Feed merges several event types into one channel for a streaming
// handler. An event that arrives while C is full is dropped and counted,
// so a slow client never holds up the bus.
type Feed struct {
	C chan any

	dropped atomic.Uint64
	mu      sync.Mutex
	unsubs  []func()
}

// NewFeed creates a feed whose channel buffers size events.
func NewFeed(size int) *Feed {
	return &Feed{C: make(chan any, size)}
}

// Include adds events of type T from bus to f.
func Include[T Event](f *Feed, bus *Bus) {
	unsub := On(bus, func(e T) {
		select {
		case f.C <- e:
		default:
			f.dropped.Add(1)
		}
	})
	f.mu.Lock()
	f.unsubs = append(f.unsubs, unsub)
	f.mu.Unlock()
}

// Dropped returns how many events were discarded so far.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

// Close unsubscribes from every included type. C is left open; events
// already buffered can still be read.
func (f *Feed) Close() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
