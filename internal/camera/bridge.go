package camera

import (
	"context"
	"sync"
)

type openResult struct {
	device Device
	err    error
}

// openCallback turns device callbacks into a single result. Callbacks that
// arrive after the caller gave up close the device; a disconnect or error
// after a successful open is forwarded to onLost.
type openCallback struct {
	deviceID string
	result   chan openResult
	onLost   func(Device, error)

	mu        sync.Mutex
	delivered bool
	abandoned bool
}

func (c *openCallback) OnOpened(d Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.abandoned {
		_ = d.Close()
		return
	}
	if c.delivered {
		return
	}
	c.delivered = true
	c.result <- openResult{device: d}
}

func (c *openCallback) OnDisconnected(d Device) {
	c.fail(d, NewError(ErrDisconnected, c.deviceID))
}

func (c *openCallback) OnError(d Device, code ErrorCode) {
	c.fail(d, NewError(code, c.deviceID))
}

func (c *openCallback) fail(d Device, err error) {
	if d != nil {
		_ = d.Close()
	}

	c.mu.Lock()
	if !c.delivered && !c.abandoned {
		c.delivered = true
		c.result <- openResult{err: err}
		c.mu.Unlock()
		return
	}
	lost := c.onLost
	abandoned := c.abandoned
	c.mu.Unlock()

	if !abandoned && lost != nil {
		lost(d, err)
	}
}

func (c *openCallback) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
	if c.delivered {
		// The result raced with cancellation; close what nobody will take.
		select {
		case r := <-c.result:
			if r.device != nil {
				_ = r.device.Close()
			}
		default:
		}
	}
}

// OpenDevice opens the device and waits for the open callback. If ctx ends
// first, the device is closed as soon as it opens. onLost, when not nil, is
// called if the device disconnects or fails after it was returned; the
// device is already closed by then.
func OpenDevice(ctx context.Context, m Manager, id string, onLost func(Device, error)) (Device, error) {
	cb := &openCallback{
		deviceID: id,
		result:   make(chan openResult, 1),
		onLost:   onLost,
	}
	if err := m.Open(id, cb); err != nil {
		return nil, err
	}

	select {
	case r := <-cb.result:
		return r.device, r.err
	case <-ctx.Done():
		cb.abandon()
		return nil, ctx.Err()
	}
}

type sessionResult struct {
	session Session
	err     error
}

type sessionCallback struct {
	deviceID string
	result   chan sessionResult

	mu        sync.Mutex
	delivered bool
	abandoned bool
}

func (c *sessionCallback) OnConfigured(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.abandoned {
		_ = s.Close()
		return
	}
	if c.delivered {
		return
	}
	c.delivered = true
	c.result <- sessionResult{session: s}
}

func (c *sessionCallback) OnConfigureFailed(s Session) {
	if s != nil {
		_ = s.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered || c.abandoned {
		return
	}
	c.delivered = true
	c.result <- sessionResult{err: NewError(ErrConfigureFailed, c.deviceID)}
}

func (c *sessionCallback) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
	if c.delivered {
		select {
		case r := <-c.result:
			if r.session != nil {
				_ = r.session.Close()
			}
		default:
		}
	}
}

// ConfigureSession creates a session on d that outputs into out and waits
// for the configuration callback. If ctx ends first, the session is closed
// as soon as it is configured.
func ConfigureSession(ctx context.Context, d Device, out Reader) (Session, error) {
	cb := &sessionCallback{
		deviceID: d.ID(),
		result:   make(chan sessionResult, 1),
	}
	if err := d.CreateSession(out, cb); err != nil {
		return nil, err
	}

	select {
	case r := <-cb.result:
		return r.session, r.err
	case <-ctx.Done():
		cb.abandon()
		return nil, ctx.Err()
	}
}
