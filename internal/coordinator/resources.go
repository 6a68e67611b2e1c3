package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smazurov/theia/internal/camera"
)

// ErrResourceHeld is returned when a second device, session or reader would
// be installed while one is still held.
var ErrResourceHeld = errors.New("resource already held")

// resources is the single owner of the opened device and the live
// session and reader. Steps move things in and take them out; whoever takes
// a resource out is responsible for closing it.
type resources struct {
	mu      sync.Mutex
	device  camera.Device
	session camera.Session
	reader  camera.Reader
	fps     camera.FPSRange
	cycle   string

	// size is the last negotiated size consumed by a bring-up. It survives
	// Pause so the next Resume can reuse it while the surface stays.
	size camera.Size
}

func (r *resources) installDevice(d camera.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil && r.device != d {
		return fmt.Errorf("%w: device %s", ErrResourceHeld, r.device.ID())
	}
	r.device = d
	return nil
}

func (r *resources) install(s camera.Session, rd camera.Reader, fps camera.FPSRange, cycle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return fmt.Errorf("%w: session", ErrResourceHeld)
	}
	if r.reader != nil {
		return fmt.Errorf("%w: reader", ErrResourceHeld)
	}
	r.session = s
	r.reader = rd
	r.fps = fps
	r.cycle = cycle
	return nil
}

func (r *resources) currentDevice() camera.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

func (r *resources) takeDevice() camera.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.device
	r.device = nil
	return d
}

// takeDeviceIf takes the device only if it is d.
func (r *resources) takeDeviceIf(d camera.Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device == nil || r.device != d {
		return false
	}
	r.device = nil
	return true
}

func (r *resources) takeSession() camera.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	r.session = nil
	r.cycle = ""
	return s
}

func (r *resources) takeReader() camera.Reader {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd := r.reader
	r.reader = nil
	return rd
}

func (r *resources) setSize(s camera.Size) {
	r.mu.Lock()
	r.size = s
	r.mu.Unlock()
}

func (r *resources) lastSize() camera.Size {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

type snapshot struct {
	deviceID string
	live     bool
	size     camera.Size
	fps      camera.FPSRange
	cycle    string
}

func (r *resources) snapshot() snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := snapshot{live: r.session != nil, cycle: r.cycle}
	if r.device != nil {
		s.deviceID = r.device.ID()
	}
	if s.live {
		s.size = r.size
		s.fps = r.fps
	}
	return s
}
