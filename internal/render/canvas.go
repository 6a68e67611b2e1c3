// Package render draws converted frames onto a display surface.
package render

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/smazurov/theia/internal/camera"
)

// ErrCanvasReleased is returned by a canvas whose backing was released.
var ErrCanvasReleased = errors.New("canvas released")

// ErrCanvasNotConfigured is returned before the first Reconfigure.
var ErrCanvasNotConfigured = errors.New("canvas not configured")

// Canvas is an RGBA image over a fixed-capacity backing store. Reconfigure
// reinterprets the backing at a new active size instead of reallocating.
type Canvas struct {
	mu       sync.Mutex
	max      camera.Size
	backing  []byte
	img      *image.RGBA
	released bool
}

// NewCanvas creates a canvas able to hold max. The backing is allocated on
// the first Reconfigure.
func NewCanvas(max camera.Size) *Canvas {
	return &Canvas{max: max}
}

// Max returns the capacity of the canvas.
func (c *Canvas) Max() camera.Size {
	return c.max
}

// Reconfigure sets the active size.
func (c *Canvas) Reconfigure(size camera.Size) error {
	if size.Empty() || !size.Within(c.max) {
		return fmt.Errorf("canvas size %s outside capacity %s", size, c.max)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return ErrCanvasReleased
	}
	if c.backing == nil {
		c.backing = make([]byte, 4*c.max.Width*c.max.Height)
	}
	n := 4 * size.Width * size.Height
	c.img = &image.RGBA{
		Pix:    c.backing[:n:n],
		Stride: 4 * size.Width,
		Rect:   image.Rect(0, 0, size.Width, size.Height),
	}
	return nil
}

// Size returns the active size, zero before the first Reconfigure.
func (c *Canvas) Size() camera.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil {
		return camera.Size{}
	}
	return camera.Size{Width: c.img.Rect.Dx(), Height: c.img.Rect.Dy()}
}

// With runs fn on the active image while holding the canvas lock, so a
// concurrent Reconfigure cannot swap the image underneath it.
func (c *Canvas) With(fn func(img *image.RGBA) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrCanvasReleased
	}
	if c.img == nil {
		return ErrCanvasNotConfigured
	}
	return fn(c.img)
}

// Release drops the backing store. The canvas cannot be used afterwards.
func (c *Canvas) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.backing = nil
	c.img = nil
}
