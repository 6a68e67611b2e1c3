// Package ratemeter estimates a frame rate over a fixed window of frames.
package ratemeter

import (
	"fmt"
	"time"
)

// DefaultStep is the window length in frames.
const DefaultStep = 20

// Clock selects the time source and its frequency.
type Clock int

// Clock sources.
const (
	// ClockTick counts monotonic microseconds since process start.
	ClockTick Clock = iota
	// ClockMilli uses wall-clock milliseconds.
	ClockMilli
	// ClockNano uses monotonic nanoseconds since process start.
	ClockNano
)

var processStart = time.Now()

// String returns the clock name.
func (c Clock) String() string {
	switch c {
	case ClockTick:
		return "tick"
	case ClockMilli:
		return "milli"
	case ClockNano:
		return "nano"
	default:
		return fmt.Sprintf("clock(%d)", int(c))
	}
}

// ParseClock maps a config value to a Clock. Empty selects ClockTick.
func ParseClock(s string) (Clock, error) {
	switch s {
	case "", "tick":
		return ClockTick, nil
	case "milli":
		return ClockMilli, nil
	case "nano":
		return ClockNano, nil
	default:
		return ClockTick, fmt.Errorf("unknown clock %q", s)
	}
}

// Frequency returns the clock's units per second.
func (c Clock) Frequency() float64 {
	switch c {
	case ClockMilli:
		return 1e3
	case ClockNano:
		return 1e9
	default:
		return 1e6
	}
}

func (c Clock) now() int64 {
	switch c {
	case ClockMilli:
		return time.Now().UnixMilli()
	case ClockNano:
		return int64(time.Since(processStart))
	default:
		return time.Since(processStart).Microseconds()
	}
}

// Meter reports frames per second, recomputed once every Step calls. Between
// recomputations it returns the last value. A Meter is not safe for
// concurrent use.
type Meter struct {
	step      int
	frequency float64
	now       func() int64

	count int
	prev  int64
	fps   float64
}

// Option configures a Meter.
type Option func(*Meter)

// WithSource replaces the clock with now, counting frequency units per
// second.
func WithSource(now func() int64, frequency float64) Option {
	return func(m *Meter) {
		m.now = now
		m.frequency = frequency
	}
}

// New creates a meter with the given window; step <= 0 selects DefaultStep.
func New(step int, clock Clock, opts ...Option) *Meter {
	if step <= 0 {
		step = DefaultStep
	}
	m := &Meter{
		step:      step,
		frequency: clock.Frequency(),
		now:       clock.now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.prev = m.now()
	return m
}

// Measure counts one frame and returns the current estimate.
func (m *Meter) Measure() float64 {
	m.count = (m.count + 1) % m.step
	if m.count == 0 {
		t := m.now()
		if elapsed := t - m.prev; elapsed > 0 {
			m.fps = float64(m.step) * m.frequency / float64(elapsed)
		}
		m.prev = t
	}
	return m.fps
}

// FPS returns the last computed value without counting a frame.
func (m *Meter) FPS() float64 {
	return m.fps
}

// Reset clears the estimate and restarts the window.
func (m *Meter) Reset() {
	m.count = 0
	m.fps = 0
	m.prev = m.now()
}
