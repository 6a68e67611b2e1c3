// Package filter holds the optional per-frame image filters applied between
// color conversion and compositing.
package filter

import (
	"fmt"
	"image"
	"strings"
)

// Filter rewrites an RGBA frame in place. Implementations keep scratch
// buffers between calls and are not safe for concurrent use.
type Filter interface {
	Name() string
	Apply(img *image.RGBA)
}

// Names of the available filters.
const (
	None   = "none"
	Dehaze = "dehaze"
	Edges  = "edges"
)

// New returns the filter called name. None and the empty string return nil.
func New(name string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", None:
		return nil, nil
	case Dehaze:
		return NewDehazer(DefaultPatch), nil
	case Edges:
		return NewEdgeDetector(), nil
	default:
		return nil, fmt.Errorf("unknown filter %q (want %s, %s or %s)", name, None, Dehaze, Edges)
	}
}

// grow returns s resized to n, reusing its storage when possible.
func grow[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
