package lifecycle

import (
	"fmt"
	"sync"
)

// Observer receives lifecycle callbacks. Each is called exactly once per
// transition, in order, and never concurrently with another.
type Observer interface {
	OnCreate()
	OnStart()
	OnResume()
	OnPause()
	OnStop()
	OnDestroy()
}

// TransitionFunc is called after every dispatched transition.
type TransitionFunc func(from, to Phase)

// Registry owns the current phase and dispatches transitions to observers.
type Registry struct {
	mu           sync.Mutex
	phase        Phase
	observers    []Observer
	onTransition []TransitionFunc
}

// NewRegistry creates a registry in the Initialized phase.
func NewRegistry(observers ...Observer) *Registry {
	return &Registry{observers: observers}
}

// Register adds an observer. It only sees transitions dispatched afterwards.
func (r *Registry) Register(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// OnTransition adds a function called after each transition.
func (r *Registry) OnTransition(fn TransitionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = append(r.onTransition, fn)
}

// Phase returns the current phase.
func (r *Registry) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Dispatch performs one direct transition to next.
func (r *Registry) Dispatch(next Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanTransition(r.phase, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.phase, next)
	}
	r.step(next)
	return nil
}

// MoveTo walks the shortest legal path to target, dispatching every
// intermediate phase. Moving to the current phase is a no-op.
func (r *Registry) MoveTo(target Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := Path(r.phase, target)
	if err != nil {
		return err
	}
	for _, p := range path {
		r.step(p)
	}
	return nil
}

// step runs with r.mu held, which keeps callbacks from overlapping.
func (r *Registry) step(next Phase) {
	from := r.phase
	r.phase = next
	for _, o := range r.observers {
		notify(o, next)
	}
	for _, fn := range r.onTransition {
		fn(from, next)
	}
}

func notify(o Observer, p Phase) {
	switch p {
	case Created:
		o.OnCreate()
	case Started:
		o.OnStart()
	case Resumed:
		o.OnResume()
	case Paused:
		o.OnPause()
	case Stopped:
		o.OnStop()
	case Destroyed:
		o.OnDestroy()
	}
}
