package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/events"
	"github.com/smazurov/theia/internal/lifecycle"
	"github.com/smazurov/theia/internal/negotiate"
)

// start opens the device and publishes it, or the open failure, to the
// device slot.
func (c *Coordinator) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := c.resolveDevice(ctx)
	if err != nil {
		_ = c.devices.Fail(ctx, err)
		return err
	}

	c.logger.Info("Opening camera", "device", id)
	dev, err := camera.OpenDevice(ctx, c.manager, id, c.deviceLost)
	if err != nil {
		if ctx.Err() != nil {
			// Pre-empted. The teardown behind us does not wait on the slot.
			return ctx.Err()
		}
		err = fmt.Errorf("failed to open camera %s: %w", id, err)
		if ferr := c.devices.Fail(ctx, err); ferr != nil {
			c.logger.Warn("Could not hand off open failure", "error", ferr)
		}
		return err
	}

	if err := c.devices.Publish(ctx, dev); err != nil {
		_ = dev.Close()
		return err
	}
	c.logger.Info("Camera opened", "device", id)
	return nil
}

// resume makes the target visible and brings the preview up once a device
// and a negotiated size are both available.
func (c *Coordinator) resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.target.SetVisible(true)

	// A paused cycle leaves its stream stopped and session closed, but the
	// reader stays until Stop.
	c.stopStream()
	c.closeReader()

	dev, err := c.acquireDevice(ctx)
	if err != nil {
		return err
	}
	size, err := c.awaitSize(ctx, true)
	if err != nil {
		return err
	}
	return c.bringUp(ctx, dev, size)
}

// reconfigure restarts the session at a newly published size.
func (c *Coordinator) reconfigure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.sizes.Full() {
		return nil
	}
	dev := c.res.currentDevice()
	if dev == nil {
		c.logger.Debug("No device to reconfigure; size kept for the next resume")
		return nil
	}
	size, err := c.awaitSize(ctx, false)
	if err != nil {
		return err
	}

	c.logger.Info("Reconfiguring preview", "device", dev.ID(), "size", size)
	c.stopStream()
	c.closeSession()
	c.closeReader()
	return c.bringUp(ctx, dev, size)
}

// pause hides the target, stops the frame stream and closes the session.
// The device stays open.
func (c *Coordinator) pause(context.Context) error {
	c.target.SetVisible(false)
	c.stopStream()
	c.closeSession()
	return nil
}

// stop closes the device and the reader and drains stale slot contents.
// The negotiated size is kept for a surface that outlives the stop.
func (c *Coordinator) stop(context.Context) error {
	c.stopStream()
	c.closeSession()

	dev := c.res.takeDevice()
	if dev == nil {
		if d, ok, err := c.devices.TryTake(); ok && err == nil {
			dev = d
		}
	}
	if dev != nil {
		c.logger.Info("Closing camera", "device", dev.ID())
		if err := dev.Close(); err != nil {
			c.logger.Warn("Failed to close camera", "device", dev.ID(), "error", err)
		}
	}

	c.closeReader()
	// Drop a failure nobody will take.
	_, _, _ = c.devices.TryTake()
	return nil
}

// destroy closes all slots and releases the canvas. Nothing can be
// submitted afterwards.
func (c *Coordinator) destroy(ctx context.Context) error {
	_ = c.stop(ctx)

	if dev, ok := c.devices.Close(); ok {
		_ = dev.Close()
	}
	c.sizes.Close()
	c.readers.Close()
	c.canvas.Release()
	c.logger.Info("Coordinator destroyed")
	return nil
}

// deviceLost runs on a backend goroutine after the device disconnected or
// failed. The device is already closed.
func (c *Coordinator) deviceLost(d camera.Device, err error) {
	id := c.configuredDeviceID()
	if d != nil {
		id = d.ID()
	}
	c.fail("device", id, err)
	c.cancelStream()
	c.submit("lost", kindPause, func(context.Context) error {
		c.stopStream()
		c.closeSession()
		c.closeReader()
		if d == nil {
			return nil
		}
		if c.res.takeDeviceIf(d) {
			c.logger.Info("Released lost camera", "device", d.ID())
			return nil
		}
		c.replacePublishedDevice(d, err)
		return nil
	})
}

// replacePublishedDevice swaps a lost device still waiting in the device
// slot for its failure, so the next Resume reports the disconnect instead of
// configuring a closed device. Anything else in the slot is put back.
func (c *Coordinator) replacePublishedDevice(d camera.Device, cause error) {
	waiting, ok, terr := c.devices.TryTake()
	switch {
	case !ok:
		return
	case terr != nil:
		_ = c.devices.Fail(c.root, terr)
	case waiting != d:
		_ = c.devices.Publish(c.root, waiting)
	default:
		c.logger.Info("Dropped lost camera before resume", "device", d.ID())
		if cause == nil {
			cause = camera.NewError(camera.ErrDisconnected, d.ID())
		}
		_ = c.devices.Fail(c.root, fmt.Errorf("camera %s lost before resume: %w", d.ID(), cause))
	}
}

// acquireDevice returns the device held in the record or takes the one
// Start published.
func (c *Coordinator) acquireDevice(ctx context.Context) (camera.Device, error) {
	if dev := c.res.currentDevice(); dev != nil {
		return dev, nil
	}
	dev, err := c.devices.Take(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.res.installDevice(dev); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return dev, nil
}

// awaitSize returns a freshly published size, or with reuse set the last
// negotiated one while its surface is still there, or waits for the next.
func (c *Coordinator) awaitSize(ctx context.Context, reuse bool) (camera.Size, error) {
	size, ok, err := c.sizes.TryTake()
	if err != nil {
		return camera.Size{}, err
	}
	if !ok && reuse {
		c.mu.Lock()
		ready := c.surface == lifecycle.SurfaceReady
		c.mu.Unlock()
		if last := c.res.lastSize(); ready && !last.Empty() {
			return last, nil
		}
	}
	if !ok {
		c.logger.Debug("Waiting for a surface")
		if size, err = c.sizes.Take(ctx); err != nil {
			return camera.Size{}, err
		}
	}
	c.res.setSize(size)
	return size, nil
}

// bringUp creates the reader, configures the session, starts the repeating
// request and hands the reader to a new frame task.
func (c *Coordinator) bringUp(ctx context.Context, dev camera.Device, size camera.Size) error {
	cycle := uuid.NewString()
	logger := c.logger.With("cycle", cycle, "device", dev.ID(), "size", size.String())

	caps, err := c.capabilities(ctx)
	if err != nil {
		return err
	}
	fps, err := negotiate.FPSRange(caps.FPSRanges)
	if err != nil {
		return err
	}

	reader, err := c.manager.NewReader(size, camera.FormatYUV420, c.maxImages)
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	session, err := camera.ConfigureSession(ctx, dev, reader)
	if err != nil {
		_ = reader.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to configure session: %w", err)
	}
	if err := session.SetRepeatingRequest(camera.PreviewRequest(fps)); err != nil {
		_ = session.Close()
		_ = reader.Close()
		return fmt.Errorf("failed to start repeating request: %w", err)
	}
	if err := c.res.install(session, reader, fps, cycle); err != nil {
		_ = session.Close()
		_ = reader.Close()
		return err
	}
	if err := c.readers.Publish(ctx, reader); err != nil {
		c.closeSession()
		c.closeReader()
		return err
	}
	c.startStream(cycle)

	logger.Info("Preview started", "fps_range", fps.String())
	c.publish(events.PreviewConfiguredEvent{
		CycleID:   cycle,
		DeviceID:  dev.ID(),
		Width:     size.Width,
		Height:    size.Height,
		FPSLower:  fps.Lower,
		FPSUpper:  fps.Upper,
		Timestamp: now(),
	})
	return nil
}

func (c *Coordinator) closeSession() {
	if s := c.res.takeSession(); s != nil {
		if err := s.Close(); err != nil {
			c.logger.Warn("Failed to close session", "error", err)
		}
	}
}

func (c *Coordinator) closeReader() {
	if r := c.res.takeReader(); r != nil {
		if err := r.Close(); err != nil && !errors.Is(err, camera.ErrReaderClosed) {
			c.logger.Warn("Failed to close reader", "error", err)
		}
	}
}
