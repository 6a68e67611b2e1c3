// Package lifecycle models the application lifecycle as an explicit phase
// machine and the display surface as an independent second machine.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is an application lifecycle phase.
type Phase int

// Phases in their natural order.
const (
	Initialized Phase = iota
	Created
	Started
	Resumed
	Paused
	Stopped
	Destroyed
)

var phaseNames = map[Phase]string{
	Initialized: "initialized",
	Created:     "created",
	Started:     "started",
	Resumed:     "resumed",
	Paused:      "paused",
	Stopped:     "stopped",
	Destroyed:   "destroyed",
}

// String returns the phase name.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePhase returns the phase with the given name.
func ParsePhase(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return Initialized, fmt.Errorf("unknown lifecycle phase %q", s)
}

// ErrIllegalTransition is returned for a transition the table does not allow.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// transitions lists the legal next phases, in the order MoveTo explores them.
var transitions = map[Phase][]Phase{
	Initialized: {Created},
	Created:     {Started, Destroyed},
	Started:     {Resumed, Stopped},
	Resumed:     {Paused},
	Paused:      {Resumed, Stopped},
	Stopped:     {Started, Destroyed},
	Destroyed:   nil,
}

// CanTransition reports whether to may directly follow from.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Path returns the shortest sequence of phases leading from from to to,
// excluding from. It returns nil when from equals to.
func Path(from, to Phase) ([]Phase, error) {
	if from == to {
		return nil, nil
	}

	prev := map[Phase]Phase{from: from}
	queue := []Phase{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []Phase
				for p := to; p != from; p = prev[p] {
					path = append([]Phase{p}, path...)
				}
				return path, nil
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// SurfacePhase is the state of the display surface.
type SurfacePhase int

// Surface phases.
const (
	SurfaceAbsent SurfacePhase = iota
	SurfaceReady
)

// String returns the surface phase name.
func (s SurfacePhase) String() string {
	if s == SurfaceReady {
		return "ready"
	}
	return "absent"
}

// MarshalText implements encoding.TextMarshaler.
func (s SurfacePhase) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SurfaceEvent is a change of the display surface.
type SurfaceEvent int

// Surface events.
const (
	SurfaceEventReady SurfaceEvent = iota
	SurfaceEventGone
)

// String returns the event name.
func (e SurfaceEvent) String() string {
	if e == SurfaceEventGone {
		return "gone"
	}
	return "ready"
}

// Reaction is what the coordinator does with a surface event in a given
// lifecycle phase.
type Reaction int

// Reactions.
const (
	// ReactIgnore drops the event.
	ReactIgnore Reaction = iota
	// ReactPublishSize negotiates a size and leaves it for the next resume.
	ReactPublishSize
	// ReactRenegotiate negotiates a size and reconfigures a live session.
	ReactRenegotiate
	// ReactCancelStream stops the frame stream.
	ReactCancelStream
	// ReactReject refuses the event; the coordinator is gone.
	ReactReject
)

// String returns the reaction name.
func (r Reaction) String() string {
	switch r {
	case ReactPublishSize:
		return "publish-size"
	case ReactRenegotiate:
		return "renegotiate"
	case ReactCancelStream:
		return "cancel-stream"
	case ReactReject:
		return "reject"
	default:
		return "ignore"
	}
}

// Interleavings is the table of allowed lifecycle × surface combinations.
// Every phase has an entry for every surface event.
var Interleavings = map[Phase]map[SurfaceEvent]Reaction{
	Initialized: {SurfaceEventReady: ReactPublishSize, SurfaceEventGone: ReactIgnore},
	Created:     {SurfaceEventReady: ReactPublishSize, SurfaceEventGone: ReactIgnore},
	Started:     {SurfaceEventReady: ReactPublishSize, SurfaceEventGone: ReactIgnore},
	Resumed:     {SurfaceEventReady: ReactRenegotiate, SurfaceEventGone: ReactCancelStream},
	Paused:      {SurfaceEventReady: ReactPublishSize, SurfaceEventGone: ReactIgnore},
	Stopped:     {SurfaceEventReady: ReactPublishSize, SurfaceEventGone: ReactIgnore},
	Destroyed:   {SurfaceEventReady: ReactReject, SurfaceEventGone: ReactIgnore},
}

// Interleave looks up the reaction for a surface event arriving in phase.
func Interleave(phase Phase, ev SurfaceEvent) Reaction {
	if row, ok := Interleavings[phase]; ok {
		return row[ev]
	}
	return ReactReject
}
