package coordinator

import (
	"fmt"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/events"
	"github.com/smazurov/theia/internal/lifecycle"
	"github.com/smazurov/theia/internal/negotiate"
)

// SurfaceReady negotiates a preview size for the surface and publishes it.
// In the resumed phase a live session is reconfigured to the new size.
func (c *Coordinator) SurfaceReady(width, height int) {
	surface := camera.Size{Width: width, Height: height}

	c.mu.Lock()
	phase := c.phase
	c.surface = lifecycle.SurfaceReady
	c.surfaceSize = surface
	c.mu.Unlock()

	c.logger.Info("Surface ready",
		"size", surface.String(),
		"rotation", c.target.Rotation(),
		"format", camera.FormatYUV420.String(),
		"phase", phase)
	c.publish(events.SurfaceChangedEvent{
		Ready:     true,
		Width:     width,
		Height:    height,
		Rotation:  c.target.Rotation(),
		Timestamp: now(),
	})

	reaction := lifecycle.Interleave(phase, lifecycle.SurfaceEventReady)
	switch reaction {
	case lifecycle.ReactReject:
		// The slots are closed; publishing reports why.
		err := c.sizes.Publish(c.root, surface)
		c.logger.Error("Surface ready rejected", "phase", phase, "error", err)
	case lifecycle.ReactPublishSize, lifecycle.ReactRenegotiate:
		if err := c.offerSize(surface); err != nil {
			c.fail("negotiate", c.configuredDeviceID(), err)
			return
		}
		if reaction == lifecycle.ReactRenegotiate {
			c.submit("reconfigure", kindBringUp, c.reconfigure)
		}
	}
}

// SurfaceGone cancels the frame stream while resumed and drops a size
// negotiated for the old surface.
func (c *Coordinator) SurfaceGone() {
	c.mu.Lock()
	phase := c.phase
	c.surface = lifecycle.SurfaceAbsent
	c.surfaceSize = camera.Size{}
	c.mu.Unlock()

	c.logger.Info("Surface gone", "phase", phase)
	c.publish(events.SurfaceChangedEvent{Ready: false, Timestamp: now()})

	if lifecycle.Interleave(phase, lifecycle.SurfaceEventGone) == lifecycle.ReactCancelStream {
		c.cancelStream()
	}

	c.sizeMu.Lock()
	_, _, _ = c.sizes.TryTake()
	c.sizeMu.Unlock()
}

// offerSize negotiates the preview size for surface, resizes the canvas and
// replaces whatever size is still waiting in the slot. A size that cannot
// be negotiated is handed on as a failure.
func (c *Coordinator) offerSize(surface camera.Size) error {
	c.sizeMu.Lock()
	defer c.sizeMu.Unlock()

	caps, err := c.capabilities(c.root)
	if err != nil {
		return err
	}
	ceiling := c.ceiling()
	size, err := negotiate.PreviewSize(caps.Sizes, surface, &ceiling)
	if err != nil {
		_, _, _ = c.sizes.TryTake()
		if ferr := c.sizes.Fail(c.root, err); ferr != nil {
			c.logger.Warn("Could not hand off negotiation failure", "error", ferr)
		}
		return err
	}
	if err := c.canvas.Reconfigure(size); err != nil {
		return fmt.Errorf("failed to resize canvas: %w", err)
	}

	// A size nobody took yet belongs to a surface that no longer exists.
	// Replacing it under sizeMu keeps Publish from blocking the caller.
	_, _, _ = c.sizes.TryTake()
	if err := c.sizes.Publish(c.root, size); err != nil {
		return err
	}
	c.logger.Info("Negotiated preview size", "surface", surface.String(), "size", size.String(), "ceiling", ceiling.String())
	return nil
}
