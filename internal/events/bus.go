package events

import (
	"github.com/kelindar/event"
)

// Bus fans events out to subscribers. Delivery is asynchronous; handlers
// for one event type see events in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to the subscribers of its concrete type. Types this
// package does not define are ignored.
func (b *Bus) Publish(ev Event) {
	// The dispatcher keys on the static type, so the interface value has
	// to be unwrapped before it is handed over.
	switch e := ev.(type) {
	case PhaseChangedEvent:
		publish(b, e)
	case SurfaceChangedEvent:
		publish(b, e)
	case PreviewConfiguredEvent:
		publish(b, e)
	case CameraErrorEvent:
		publish(b, e)
	case FrameStatsEvent:
		publish(b, e)
	case LogEntryEvent:
		publish(b, e)
	}
}

func publish[T Event](b *Bus, e T) {
	event.Publish(b.dispatcher, e)
}

// On registers fn for events of type T and returns the unsubscribe func.
func On[T Event](b *Bus, fn func(T)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

// Subscribe is On for callers holding a handler of unknown type, such as
// a method value. A handler that takes no event type of this package
// subscribes to nothing.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(PhaseChangedEvent):
		return On(b, h)
	case func(SurfaceChangedEvent):
		return On(b, h)
	case func(PreviewConfiguredEvent):
		return On(b, h)
	case func(CameraErrorEvent):
		return On(b, h)
	case func(FrameStatsEvent):
		return On(b, h)
	case func(LogEntryEvent):
		return On(b, h)
	}
	return func() {}
}
