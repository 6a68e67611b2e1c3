package render

import (
	"errors"
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// ErrNoSurface is returned by Lock while no surface exists.
var ErrNoSurface = errors.New("no surface")

// SurfaceListener receives display surface lifecycle events.
type SurfaceListener interface {
	SurfaceReady(width, height int)
	SurfaceGone()
}

// Target is a display surface that frames are drawn onto.
type Target interface {
	// Lock returns the drawable surface for one frame.
	Lock() (draw.Image, error)
	// Post presents a surface obtained from Lock.
	Post(surface draw.Image) error
	// Bounds returns the current surface size, zero while there is none.
	Bounds() image.Point
	SetVisible(visible bool)
	// Rotation returns the display rotation in degrees.
	Rotation() int
	SetListener(l SurfaceListener)
}

// MemoryTarget is an in-memory Target for headless runs and tests.
type MemoryTarget struct {
	drawMu   sync.Mutex // held from Lock to Post
	mu       sync.Mutex
	surface  *image.RGBA
	listener SurfaceListener
	visible  bool
	rotation int
	posted   int
}

// NewMemoryTarget creates a target with no surface.
func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{}
}

// Attach creates a surface of the given size and notifies the listener.
func (m *MemoryTarget) Attach(width, height int) {
	m.mu.Lock()
	m.surface = image.NewRGBA(image.Rect(0, 0, width, height))
	l := m.listener
	m.mu.Unlock()

	if l != nil {
		l.SurfaceReady(width, height)
	}
}

// Detach drops the surface and notifies the listener.
func (m *MemoryTarget) Detach() {
	m.mu.Lock()
	had := m.surface != nil
	m.surface = nil
	l := m.listener
	m.mu.Unlock()

	if had && l != nil {
		l.SurfaceGone()
	}
}

// Lock returns the surface. Every successful Lock must be followed by Post.
func (m *MemoryTarget) Lock() (draw.Image, error) {
	m.drawMu.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surface == nil {
		m.drawMu.Unlock()
		return nil, ErrNoSurface
	}
	return m.surface, nil
}

// Post counts a presented frame.
func (m *MemoryTarget) Post(draw.Image) error {
	m.mu.Lock()
	m.posted++
	m.mu.Unlock()
	m.drawMu.Unlock()
	return nil
}

// Bounds returns the surface size.
func (m *MemoryTarget) Bounds() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surface == nil {
		return image.Point{}
	}
	return m.surface.Rect.Size()
}

func (m *MemoryTarget) SetVisible(visible bool) {
	m.mu.Lock()
	m.visible = visible
	m.mu.Unlock()
}

// Visible reports the last SetVisible value.
func (m *MemoryTarget) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

func (m *MemoryTarget) Rotation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotation
}

// SetRotation sets the value Rotation reports.
func (m *MemoryTarget) SetRotation(degrees int) {
	m.mu.Lock()
	m.rotation = degrees
	m.mu.Unlock()
}

func (m *MemoryTarget) SetListener(l SurfaceListener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

// Posted returns the number of frames presented.
func (m *MemoryTarget) Posted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted
}

// Snapshot returns a copy of the surface, nil while there is none.
func (m *MemoryTarget) Snapshot() *image.RGBA {
	m.drawMu.Lock()
	defer m.drawMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surface == nil {
		return nil
	}
	cp := image.NewRGBA(m.surface.Rect)
	copy(cp.Pix, m.surface.Pix)
	return cp
}
