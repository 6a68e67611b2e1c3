//go:build linux

package hotplug

import (
	"context"
	"strings"
	"sync"
)

// Dispatcher delivers remove events to per-device watchers.
type Dispatcher struct {
	mu       sync.Mutex
	watchers map[string]map[*watch]struct{}
}

type watch struct {
	ch   chan struct{}
	once sync.Once
}

func (w *watch) fire() {
	w.once.Do(func() { close(w.ch) })
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{watchers: make(map[string]map[*watch]struct{})}
}

// DeviceName normalizes a device node or uevent DEVNAME ("/dev/video0",
// "video0") to its kernel name.
func DeviceName(path string) string {
	return strings.TrimPrefix(path, "/dev/")
}

// WatchRemove returns a channel that is closed when devName is removed.
// cancel stops the watch; it is safe to call after the channel fired.
func (d *Dispatcher) WatchRemove(devName string) (removed <-chan struct{}, cancel func()) {
	name := DeviceName(devName)
	w := &watch{ch: make(chan struct{})}

	d.mu.Lock()
	set, ok := d.watchers[name]
	if !ok {
		set = make(map[*watch]struct{})
		d.watchers[name] = set
	}
	set[w] = struct{}{}
	d.mu.Unlock()

	return w.ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if set, ok := d.watchers[name]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(d.watchers, name)
			}
		}
	}
}

// Dispatch fires the watchers of a removed device. Other events are ignored.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.Action != ActionRemove || ev.DevName == "" {
		return
	}
	name := DeviceName(ev.DevName)

	d.mu.Lock()
	set := d.watchers[name]
	delete(d.watchers, name)
	d.mu.Unlock()

	for w := range set {
		w.fire()
	}
}

// Run feeds events from m into the dispatcher until ctx is cancelled or the
// monitor fails.
func (d *Dispatcher) Run(ctx context.Context, m *Monitor) error {
	events := make(chan Event, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- m.Run(ctx, events)
	}()

	for ev := range events {
		d.Dispatch(ev)
	}
	return <-errc
}
