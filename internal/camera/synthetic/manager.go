// Package synthetic is a camera backend that renders a moving test pattern.
// It needs no hardware and can inject the failures a real sensor reports,
// which makes it the hardware double for pipeline tests.
package synthetic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/logging"
)

// Layout is the memory layout of generated frames.
type Layout string

// Layouts.
const (
	LayoutNV12 Layout = "nv12"
	LayoutNV21 Layout = "nv21"
	LayoutI420 Layout = "i420"
)

// Config describes the simulated sensor.
type Config struct {
	DeviceID  string
	Name      string
	Sizes     []camera.Size
	FPSRanges []camera.FPSRange
	Layout    Layout
	// RowPadding is added to every row stride.
	RowPadding int
	// FPS overrides the frame rate taken from the repeating request. Zero
	// means use the request's upper bound; a negative value disables the
	// producer so frames come only from Reader.Emit.
	FPS int
	// OpenDelay delays the open callback.
	OpenDelay time.Duration

	// OpenError makes every open fail with this code.
	OpenError camera.ErrorCode
	// ConfigureFail makes every session configuration fail.
	ConfigureFail bool
}

// DefaultConfig returns a sensor with common webcam sizes.
func DefaultConfig() Config {
	return Config{
		DeviceID: "synthetic0",
		Name:     "Synthetic test pattern",
		Sizes: []camera.Size{
			{Width: 320, Height: 240},
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
			{Width: 1920, Height: 1080},
		},
		FPSRanges: []camera.FPSRange{{Lower: 15, Upper: 15}, {Lower: 15, Upper: 30}, {Lower: 30, Upper: 30}},
		Layout:    LayoutNV12,
	}
}

// Manager is the synthetic camera.Manager.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	cfg    Config
	open   *Device
	trace  []string
	closed bool
}

// NewManager creates a manager for one simulated device.
func NewManager(cfg Config) *Manager {
	if cfg.DeviceID == "" {
		cfg.DeviceID = "synthetic0"
	}
	if cfg.Layout == "" {
		cfg.Layout = LayoutNV12
	}
	return &Manager{
		logger: logging.GetLogger("camera"),
		cfg:    cfg,
	}
}

// SetFaults replaces the injected failures for later opens and sessions.
func (m *Manager) SetFaults(openErr camera.ErrorCode, configureFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.OpenError = openErr
	m.cfg.ConfigureFail = configureFail
}

// Trace returns the ordered record of open, configure and close calls.
func (m *Manager) Trace() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.trace...)
}

func (m *Manager) record(format string, args ...any) {
	m.mu.Lock()
	m.trace = append(m.trace, fmt.Sprintf(format, args...))
	m.mu.Unlock()
}

func (m *Manager) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ListDevices returns the simulated device.
func (m *Manager) ListDevices(context.Context) ([]camera.DeviceInfo, error) {
	cfg := m.config()
	return []camera.DeviceInfo{{ID: cfg.DeviceID, Name: cfg.Name, Ready: true}}, nil
}

// Capabilities returns the configured sizes and ranges.
func (m *Manager) Capabilities(_ context.Context, id string) (camera.Capabilities, error) {
	cfg := m.config()
	if id != cfg.DeviceID {
		return camera.Capabilities{}, fmt.Errorf("%w: %s", camera.ErrDeviceNotFound, id)
	}
	return camera.Capabilities{
		Sizes:     append([]camera.Size(nil), cfg.Sizes...),
		FPSRanges: append([]camera.FPSRange(nil), cfg.FPSRanges...),
		Format:    string(cfg.Layout),
	}, nil
}

// Open opens the device asynchronously.
func (m *Manager) Open(id string, cb camera.DeviceCallback) error {
	m.mu.Lock()
	cfg := m.cfg
	if id != cfg.DeviceID {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", camera.ErrDeviceNotFound, id)
	}
	busy := m.open != nil
	var dev *Device
	if !busy && cfg.OpenError == "" {
		dev = &Device{manager: m, id: id, cb: cb}
		m.open = dev
	}
	m.trace = append(m.trace, "open "+id)
	m.mu.Unlock()

	go func() {
		if cfg.OpenDelay > 0 {
			time.Sleep(cfg.OpenDelay)
		}
		switch {
		case busy:
			cb.OnError(nil, camera.ErrInUse)
		case cfg.OpenError == camera.ErrDisconnected:
			cb.OnDisconnected(nil)
		case cfg.OpenError != "":
			cb.OnError(nil, cfg.OpenError)
		default:
			m.logger.Debug("Synthetic device opened", "device", id)
			cb.OnOpened(dev)
		}
	}()
	return nil
}

// Disconnect simulates unplugging the open device.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	dev := m.open
	m.mu.Unlock()
	if dev == nil {
		return
	}
	m.logger.Info("Simulating disconnect", "device", dev.id)
	dev.cb.OnDisconnected(dev)
}

// NewReader creates a buffer pool producing frames in the configured layout.
func (m *Manager) NewReader(size camera.Size, format camera.PixelFormat, maxImages int) (camera.Reader, error) {
	if format != camera.FormatYUV420 {
		return nil, fmt.Errorf("synthetic: unsupported format %s", format)
	}
	if size.Empty() || maxImages < 1 {
		return nil, fmt.Errorf("synthetic: invalid reader %s x%d", size, maxImages)
	}
	cfg := m.config()
	return newReader(m, size, cfg.Layout, cfg.RowPadding, maxImages), nil
}

// Device is an opened synthetic sensor.
type Device struct {
	manager *Manager
	id      string
	cb      camera.DeviceCallback

	mu      sync.Mutex
	session *Session
	closed  bool
}

// ID returns the device ID.
func (d *Device) ID() string { return d.id }

// CreateSession configures a session that feeds out.
func (d *Device) CreateSession(out camera.Reader, cb camera.SessionCallback) error {
	r, ok := out.(*Reader)
	if !ok {
		return fmt.Errorf("synthetic: output is %T, not a synthetic reader", out)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return camera.NewError(camera.ErrDisconnected, d.id)
	}
	if d.session != nil {
		d.mu.Unlock()
		return fmt.Errorf("synthetic: device %s already has a session", d.id)
	}
	s := &Session{device: d, reader: r}
	d.session = s
	d.mu.Unlock()

	cfg := d.manager.config()
	d.manager.record("configure %s %s", d.id, r.Size())

	go func() {
		if cfg.ConfigureFail {
			d.clearSession(s)
			cb.OnConfigureFailed(s)
			return
		}
		cb.OnConfigured(s)
	}()
	return nil
}

func (d *Device) clearSession(s *Session) {
	d.mu.Lock()
	if d.session == s {
		d.session = nil
	}
	d.mu.Unlock()
}

// Close closes the device and any session still on it. It is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.session
	d.mu.Unlock()

	if s != nil {
		_ = s.Close()
	}

	d.manager.mu.Lock()
	if d.manager.open == d {
		d.manager.open = nil
	}
	d.manager.trace = append(d.manager.trace, "close device "+d.id)
	d.manager.mu.Unlock()
	return nil
}

// Session streams generated frames into its reader.
type Session struct {
	device *Device
	reader *Reader

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// SetRepeatingRequest starts or restarts frame production.
func (s *Session) SetRepeatingRequest(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("synthetic: session closed")
	}

	s.stopLocked()

	cfg := s.device.manager.config()
	fps := cfg.FPS
	if fps == 0 {
		fps = req.FPSRange.Upper
	}
	s.device.manager.record("repeat %s fps=%s", s.device.id, req.FPSRange)
	if fps <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.produce(ctx, time.Second/time.Duration(fps), s.done)
	return nil
}

func (s *Session) produce(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reader.Emit()
		}
	}
}

// stopLocked stops the producer and waits for it.
func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Close stops production. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()

	s.device.clearSession(s)
	s.device.manager.record("close session %s", s.device.id)
	return nil
}
