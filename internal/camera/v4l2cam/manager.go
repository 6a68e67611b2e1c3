//go:build linux && (amd64 || arm64)

// Package v4l2cam is the Linux capture backend. It streams YUV 4:2:0 from
// V4L2 devices through memory mapped buffers and reports unplugged devices
// from netlink hotplug events.
package v4l2cam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/logging"
	"github.com/smazurov/theia/pkg/linuxav/hotplug"
	"github.com/smazurov/theia/pkg/linuxav/v4l2"
)

// preferredFormats lists the 4:2:0 formats in the order they are tried.
var preferredFormats = []uint32{v4l2.PixFmtNV12, v4l2.PixFmtNV21, v4l2.PixFmtYUV420, v4l2.PixFmtYVU420}

const (
	dequeueTimeout = 500 * time.Millisecond
	// extraDriverBuffers keeps the driver capturing while the reader's
	// copies are all held.
	extraDriverBuffers = 2
)

// Manager is the V4L2 camera.Manager.
type Manager struct {
	logger   *slog.Logger
	removals *hotplug.Dispatcher

	mu   sync.Mutex
	open map[string]*Device
}

// NewManager creates a manager. Call Run to receive disconnects.
func NewManager() *Manager {
	return &Manager{
		logger:   logging.GetLogger("camera"),
		removals: hotplug.NewDispatcher(),
		open:     make(map[string]*Device),
	}
}

// Run watches hotplug events until ctx is cancelled. Without a netlink
// socket, unplugs are still detected by the capture loop.
func (m *Manager) Run(ctx context.Context) error {
	mon, err := hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
	if err != nil {
		m.logger.Warn("Hotplug monitor unavailable", "error", err)
		<-ctx.Done()
		return nil
	}
	defer func() { _ = mon.Close() }()

	err = m.removals.Run(ctx, mon)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ListDevices returns the capture devices that can stream.
func (m *Manager) ListDevices(context.Context) ([]camera.DeviceInfo, error) {
	devices, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	out := make([]camera.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, camera.DeviceInfo{
			ID:    d.DeviceID,
			Name:  d.DeviceName,
			Path:  d.DevicePath,
			Ready: v4l2.IsDeviceReady(d.DevicePath),
		})
	}
	return out, nil
}

// Capabilities reports the sizes and frame rates of the first supported
// 4:2:0 format.
func (m *Manager) Capabilities(_ context.Context, id string) (camera.Capabilities, error) {
	path, err := v4l2.GetDevicePathByID(id)
	if err != nil {
		return camera.Capabilities{}, fmt.Errorf("%w: %s", camera.ErrDeviceNotFound, id)
	}

	fourcc, err := pickFormat(path)
	if err != nil {
		return camera.Capabilities{}, err
	}

	resolutions, err := v4l2.GetResolutions(path, fourcc)
	if err != nil {
		return camera.Capabilities{}, fmt.Errorf("failed to list sizes for %s: %w", id, err)
	}

	caps := camera.Capabilities{Format: v4l2.FormatFourCC(fourcc)}
	rates := make(map[int]struct{})
	for _, res := range resolutions {
		caps.Sizes = append(caps.Sizes, camera.Size{Width: int(res.Width), Height: int(res.Height)})
		framerates, err := v4l2.GetFramerates(path, fourcc, res.Width, res.Height)
		if err != nil {
			m.logger.Debug("Failed to list frame rates", "device", id, "size", res, "error", err)
			continue
		}
		for _, fr := range framerates {
			if fps := int(fr.FPS() + 0.5); fps > 0 {
				rates[fps] = struct{}{}
			}
		}
	}
	caps.FPSRanges = fpsRanges(rates)
	return caps, nil
}

// fpsRanges turns discrete rates into fixed ranges plus one variable range
// spanning all of them.
func fpsRanges(rates map[int]struct{}) []camera.FPSRange {
	fps := make([]int, 0, len(rates))
	for r := range rates {
		fps = append(fps, r)
	}
	sort.Ints(fps)

	ranges := make([]camera.FPSRange, 0, len(fps)+1)
	for _, r := range fps {
		ranges = append(ranges, camera.FPSRange{Lower: r, Upper: r})
	}
	if len(fps) > 1 {
		ranges = append(ranges, camera.FPSRange{Lower: fps[0], Upper: fps[len(fps)-1]})
	}
	return ranges
}

func pickFormat(path string) (uint32, error) {
	formats, err := v4l2.GetFormats(path)
	if err != nil {
		return 0, err
	}
	for _, want := range preferredFormats {
		for _, f := range formats {
			if f.PixelFormat == want {
				return want, nil
			}
		}
	}
	return 0, fmt.Errorf("%s offers no YUV 4:2:0 format", path)
}

// Open opens the device node on a background goroutine.
func (m *Manager) Open(id string, cb camera.DeviceCallback) error {
	path, err := v4l2.GetDevicePathByID(id)
	if err != nil {
		return fmt.Errorf("%w: %s", camera.ErrDeviceNotFound, id)
	}

	m.mu.Lock()
	_, busy := m.open[id]
	m.mu.Unlock()

	go func() {
		if busy {
			cb.OnError(nil, camera.ErrInUse)
			return
		}

		stream, err := v4l2.OpenStream(path)
		if err != nil {
			m.logger.Error("Failed to open device", "device", id, "path", path, "error", err)
			if code := errorCode(err); code == camera.ErrDisconnected {
				cb.OnDisconnected(nil)
			} else {
				cb.OnError(nil, code)
			}
			return
		}

		fourcc, err := pickFormat(path)
		if err != nil {
			_ = stream.Close()
			m.logger.Error("Device has no usable format", "device", id, "error", err)
			cb.OnError(nil, camera.ErrDevice)
			return
		}

		if status := v4l2.GetDVTimings(path); status.State == v4l2.SignalStateLocked {
			m.logger.Info("HDMI signal locked", "device", id,
				"width", status.Width, "height", status.Height, "fps", status.FPS)
		}

		d := &Device{manager: m, id: id, path: path, fourcc: fourcc, stream: stream, cb: cb, done: make(chan struct{})}
		m.mu.Lock()
		if _, taken := m.open[id]; taken {
			m.mu.Unlock()
			_ = stream.Close()
			cb.OnError(nil, camera.ErrInUse)
			return
		}
		m.open[id] = d
		m.mu.Unlock()

		removed, cancel := m.removals.WatchRemove(path)
		d.stopWatch = cancel
		go func() {
			select {
			case <-removed:
				m.logger.Warn("Device unplugged", "device", id, "path", path)
				d.lost()
			case <-d.done:
			}
		}()

		m.logger.Info("Device opened", "device", id, "path", path, "format", v4l2.FormatFourCC(fourcc))
		cb.OnOpened(d)
	}()
	return nil
}

// NewReader creates a reader for frames of size.
func (m *Manager) NewReader(size camera.Size, format camera.PixelFormat, maxImages int) (camera.Reader, error) {
	if format != camera.FormatYUV420 {
		return nil, fmt.Errorf("v4l2cam: unsupported format %s", format)
	}
	if size.Empty() || maxImages < 1 {
		return nil, fmt.Errorf("v4l2cam: invalid reader %s x%d", size, maxImages)
	}
	return newReader(size, maxImages), nil
}

func (m *Manager) forget(d *Device) {
	m.mu.Lock()
	if m.open[d.id] == d {
		delete(m.open, d.id)
	}
	m.mu.Unlock()
}

// errorCode maps an errno from opening or configuring a device to a
// camera error code.
func errorCode(err error) camera.ErrorCode {
	switch {
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO):
		return camera.ErrDisconnected
	case errors.Is(err, unix.EBUSY):
		return camera.ErrInUse
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return camera.ErrDisabled
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		return camera.ErrMaxInUse
	default:
		return camera.ErrDevice
	}
}

// Device is an opened V4L2 node.
type Device struct {
	manager *Manager
	id      string
	path    string
	fourcc  uint32
	stream  *v4l2.Stream
	cb      camera.DeviceCallback

	stopWatch func()
	done      chan struct{}
	gone      atomic.Bool

	mu      sync.Mutex
	session *Session
	closed  bool
}

// ID returns the stable device ID.
func (d *Device) ID() string { return d.id }

// CreateSession sets the capture format to the reader's size and maps the
// driver buffers.
func (d *Device) CreateSession(out camera.Reader, cb camera.SessionCallback) error {
	r, ok := out.(*Reader)
	if !ok {
		return fmt.Errorf("v4l2cam: output is %T, not a v4l2cam reader", out)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return camera.NewError(camera.ErrDisconnected, d.id)
	}
	if d.session != nil {
		d.mu.Unlock()
		return fmt.Errorf("v4l2cam: device %s already has a session", d.id)
	}
	s := &Session{device: d, reader: r}
	d.session = s
	d.mu.Unlock()

	go func() {
		if err := s.configure(); err != nil {
			d.manager.logger.Error("Session configuration failed", "device", d.id, "size", r.Size(), "error", err)
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

// lost reports the device as disconnected once, unless it was closed.
func (d *Device) lost() {
	if d.gone.CompareAndSwap(false, true) {
		d.cb.OnDisconnected(d)
	}
}

// Close closes any session and the device node. It is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.session
	d.mu.Unlock()
	d.gone.Store(true)

	if s != nil {
		_ = s.Close()
	}
	if d.stopWatch != nil {
		d.stopWatch()
	}
	close(d.done)
	d.manager.forget(d)

	if err := d.stream.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", d.id, err)
	}
	d.manager.logger.Debug("Device closed", "device", d.id)
	return nil
}

// Session captures into one reader.
type Session struct {
	device *Device
	reader *Reader

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func (s *Session) configure() error {
	size := s.reader.Size()
	st := s.device.stream

	f, err := st.SetFormat(uint32(size.Width), uint32(size.Height), s.device.fourcc)
	if err != nil {
		return err
	}
	if int(f.Width) != size.Width || int(f.Height) != size.Height {
		return fmt.Errorf("driver chose %dx%d for %s", f.Width, f.Height, size)
	}
	if f.PixelFormat != s.device.fourcc {
		return fmt.Errorf("driver chose %s instead of %s", v4l2.FormatFourCC(f.PixelFormat), v4l2.FormatFourCC(s.device.fourcc))
	}

	bpl := int(f.BytesPerLine)
	if bpl < size.Width {
		bpl = size.Width
	}
	s.reader.bind(layout{fourcc: f.PixelFormat, width: size.Width, height: size.Height, bytesPerLine: bpl})

	return st.RequestBuffers(uint32(s.reader.MaxImages() + extraDriverBuffers))
}

// SetRepeatingRequest applies the request's controls and frame rate, then
// starts or restarts capture.
func (s *Session) SetRepeatingRequest(req camera.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("v4l2cam: session closed")
	}

	s.stopLocked()
	st := s.device.stream
	logger := s.device.manager.logger

	if req.AutoFocus == camera.AFContinuousPicture {
		if err := st.SetControl(v4l2.CtrlFocusAuto, 1); err != nil {
			logger.Debug("Continuous autofocus not supported", "device", s.device.id, "error", err)
		}
	}
	if req.AutoExposure != camera.AEOff {
		if err := st.SetControl(v4l2.CtrlExposureAuto, v4l2.ExposureAperturePriority); err != nil {
			logger.Debug("Auto exposure not supported", "device", s.device.id, "error", err)
		}
	}
	if err := st.SetFrameRate(uint32(req.FPSRange.Upper)); err != nil {
		logger.Debug("Frame rate not applied", "device", s.device.id, "error", err)
	}

	if err := st.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.capture(ctx)
	return nil
}

func (s *Session) capture(ctx context.Context) {
	defer s.wg.Done()
	st := s.device.stream
	logger := s.device.manager.logger

	for ctx.Err() == nil {
		buf, err := st.Dequeue(dequeueTimeout)
		switch {
		case errors.Is(err, v4l2.ErrTimeout):
			continue
		case errors.Is(err, v4l2.ErrStreamClosed):
			return
		case err != nil:
			if errorCode(err) == camera.ErrDisconnected {
				go s.device.lost()
				return
			}
			logger.Error("Capture failed", "device", s.device.id, "error", err)
			return
		}

		data := st.Buffer(buf.Index)
		if int(buf.BytesUsed) <= len(data) && buf.BytesUsed > 0 {
			data = data[:buf.BytesUsed]
		}
		s.reader.deliver(data, uint64(buf.Sequence), buf.Timestamp)

		if err := st.Queue(buf.Index); err != nil {
			logger.Error("Failed to requeue buffer", "device", s.device.id, "index", buf.Index, "error", err)
			return
		}
	}
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

// Close stops capture and frees the driver buffers so the device can be
// reconfigured. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()

	err := s.device.stream.ReleaseBuffers()
	s.device.clearSession(s)
	if err != nil && !errors.Is(err, v4l2.ErrStreamClosed) {
		return err
	}
	return nil
}
