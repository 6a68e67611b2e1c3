// Package coordinator opens, configures and releases the camera in step with
// the application lifecycle and the display surface.
//
// Lifecycle callbacks become steps executed one at a time by a sequencer
// goroutine. Start, Resume and Reconfigure bring resources up; Pause, Stop
// and Destroy tear them down. Submitting a teardown cancels the context of
// the bring-ups submitted before it, so a hung open or configure never
// blocks the teardown behind it. Pause and a lost device cancel Resume and
// Reconfigure only; the open of Start is cancelled by Stop and Destroy,
// which are the steps that close the device.
//
// Values cross goroutines through handoff slots: the opened device (Start to
// Resume), the negotiated size (surface-ready to Resume) and the reader
// (Resume to the frame task). Everything that is open belongs to a single
// resources record, which is where teardown steps find it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/events"
	"github.com/smazurov/theia/internal/filter"
	"github.com/smazurov/theia/internal/framestream"
	"github.com/smazurov/theia/internal/handoff"
	"github.com/smazurov/theia/internal/lifecycle"
	"github.com/smazurov/theia/internal/logging"
	"github.com/smazurov/theia/internal/negotiate"
	"github.com/smazurov/theia/internal/ratemeter"
	"github.com/smazurov/theia/internal/render"
	"github.com/smazurov/theia/internal/yuv"
)

// ErrDestroyed is returned for steps submitted after Destroy.
var ErrDestroyed = errors.New("coordinator destroyed")

// Defaults.
const (
	DefaultMaxImages = 2
)

// DefaultCanvasMax bounds every negotiated preview size.
var DefaultCanvasMax = camera.Size{Width: 1920, Height: 1080}

// Preview holds the settings that may change while running.
type Preview struct {
	// MaxWidth and MaxHeight cap the negotiated size. Zero means no cap
	// beyond the canvas capacity.
	MaxWidth  int
	MaxHeight int
	// FPSStep is the rate meter window in frames.
	FPSStep int
	Overlay bool
	Filter  string
}

// Options configures a Coordinator.
type Options struct {
	Manager camera.Manager
	Target  render.Target
	// Bus receives phase, surface, error and frame events. Optional.
	Bus *events.Bus
	// DeviceID selects the camera. Empty picks the first ready device.
	DeviceID  string
	MaxImages int
	// CanvasMax is the capacity of the conversion canvas.
	CanvasMax camera.Size
	Clock     ratemeter.Clock
	Preview   Preview
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Phase       lifecycle.Phase        `json:"phase"`
	Surface     lifecycle.SurfacePhase `json:"surface"`
	SurfaceSize camera.Size            `json:"surface_size"`
	DeviceID    string                 `json:"device_id,omitempty"`
	Streaming   bool                   `json:"streaming"`
	PreviewSize camera.Size            `json:"preview_size"`
	FPSRange    camera.FPSRange        `json:"fps_range"`
	CycleID     string                 `json:"cycle_id,omitempty"`
	FPS         float64                `json:"fps"`
	Frames      framestream.Stats      `json:"frames"`
	Rendered    uint64                 `json:"rendered"`
	LastError   string                 `json:"last_error,omitempty"`
}

// stepKind decides which queued steps a step pre-empts and which pre-empt
// it.
type stepKind int

const (
	// kindBringUp steps are cancelled by any later teardown.
	kindBringUp stepKind = iota
	// kindOpen steps are cancelled only by a later kindRelease.
	kindOpen
	// kindPause tears down the session and keeps the device.
	kindPause
	// kindRelease tears down everything including the device.
	kindRelease
)

func (k stepKind) teardown() bool {
	return k >= kindPause
}

type step struct {
	name string
	kind stepKind
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

type streamTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	stream atomic.Pointer[framestream.Stream]
}

// Coordinator implements lifecycle.Observer and render.SurfaceListener.
type Coordinator struct {
	manager camera.Manager
	target  render.Target
	bus     *events.Bus
	logger  *slog.Logger

	maxImages int
	clock     ratemeter.Clock
	preview   atomic.Pointer[Preview]

	devices *handoff.Slot[camera.Device]
	sizes   *handoff.Slot[camera.Size]
	readers *handoff.Slot[camera.Reader]
	res     resources

	canvas     *render.Canvas
	converter  *yuv.Converter
	compositor *render.Compositor

	root       context.Context
	cancelRoot context.CancelFunc

	// Sequencer queue.
	qmu         sync.Mutex
	queue       []step
	wake        chan struct{}
	bringCtx    context.Context
	bringCancel context.CancelFunc
	openCtx     context.Context
	openCancel  context.CancelFunc
	stopped     bool
	done        chan struct{}

	mu          sync.Mutex
	phase       lifecycle.Phase
	surface     lifecycle.SurfacePhase
	surfaceSize camera.Size
	deviceID    string
	caps        *camera.Capabilities
	lastErr     string

	sizeMu sync.Mutex // serialises replacing the published size

	smu    sync.Mutex
	stream *streamTask

	fps      atomic.Uint64 // math.Float64bits
	rendered atomic.Uint64
}

// New creates a coordinator, registers it as the target's surface listener
// and starts its sequencer.
func New(opts Options) (*Coordinator, error) {
	if opts.Manager == nil {
		return nil, errors.New("coordinator: camera manager is required")
	}
	if opts.Target == nil {
		return nil, errors.New("coordinator: render target is required")
	}
	if _, err := filter.New(opts.Preview.Filter); err != nil {
		return nil, err
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = DefaultMaxImages
	}
	if opts.CanvasMax.Empty() {
		opts.CanvasMax = DefaultCanvasMax
	}

	root, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		manager:    opts.Manager,
		target:     opts.Target,
		bus:        opts.Bus,
		logger:     logging.GetLogger("coordinator"),
		maxImages:  opts.MaxImages,
		clock:      opts.Clock,
		devices:    handoff.New[camera.Device]("device"),
		sizes:      handoff.New[camera.Size]("size"),
		readers:    handoff.New[camera.Reader]("reader"),
		canvas:     render.NewCanvas(opts.CanvasMax),
		converter:  yuv.NewConverter(),
		compositor: render.NewCompositor(),
		root:       root,
		cancelRoot: cancel,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		deviceID:   opts.DeviceID,
	}
	p := opts.Preview
	c.preview.Store(&p)
	c.bringCtx, c.bringCancel = context.WithCancel(root)
	c.openCtx, c.openCancel = context.WithCancel(root)

	c.target.SetListener(c)
	go c.sequence()
	return c, nil
}

// OnCreate records the phase.
func (c *Coordinator) OnCreate() {
	c.enter(lifecycle.Created)
}

// OnStart opens the device.
func (c *Coordinator) OnStart() {
	c.enter(lifecycle.Started)
	c.submit("start", kindOpen, c.start)
}

// OnResume shows the target and brings the preview up.
func (c *Coordinator) OnResume() {
	c.enter(lifecycle.Resumed)
	c.submit("resume", kindBringUp, c.resume)
}

// OnPause hides the target, stops the frame stream and closes the session.
func (c *Coordinator) OnPause() {
	c.enter(lifecycle.Paused)
	c.cancelStream()
	c.submit("pause", kindPause, c.pause)
}

// OnStop closes the device and the reader.
func (c *Coordinator) OnStop() {
	c.enter(lifecycle.Stopped)
	c.submit("stop", kindRelease, c.stop)
}

// OnDestroy closes every slot, stops the sequencer and releases the canvas.
func (c *Coordinator) OnDestroy() {
	c.enter(lifecycle.Destroyed)
	c.submit("destroy", kindRelease, c.destroy)
}

// Flush waits until every step submitted so far has run.
func (c *Coordinator) Flush(ctx context.Context) error {
	done := c.submit("flush", kindBringUp, func(context.Context) error { return nil })
	select {
	case err := <-done:
		if errors.Is(err, ErrDestroyed) {
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the sequencer has run Destroy.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// SetPreview replaces the live preview settings. A changed size cap
// renegotiates the current surface.
func (c *Coordinator) SetPreview(p Preview) error {
	if _, err := filter.New(p.Filter); err != nil {
		return err
	}
	old := c.preview.Swap(&p)
	c.logger.Info("Preview settings updated",
		"max_width", p.MaxWidth, "max_height", p.MaxHeight,
		"overlay", p.Overlay, "filter", p.Filter)

	if old.MaxWidth == p.MaxWidth && old.MaxHeight == p.MaxHeight {
		return nil
	}
	c.mu.Lock()
	ready := c.surface == lifecycle.SurfaceReady
	size := c.surfaceSize
	c.mu.Unlock()
	if ready {
		c.SurfaceReady(size.Width, size.Height)
	}
	return nil
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		Phase:       c.phase,
		Surface:     c.surface,
		SurfaceSize: c.surfaceSize,
		DeviceID:    c.deviceID,
		LastError:   c.lastErr,
	}
	c.mu.Unlock()

	snap := c.res.snapshot()
	if snap.deviceID != "" {
		st.DeviceID = snap.deviceID
	}
	st.Streaming = snap.live
	st.PreviewSize = snap.size
	st.FPSRange = snap.fps
	st.CycleID = snap.cycle
	st.FPS = math.Float64frombits(c.fps.Load())
	st.Rendered = c.rendered.Load()

	c.smu.Lock()
	if c.stream != nil {
		if s := c.stream.stream.Load(); s != nil {
			st.Frames = s.Stats()
		}
	}
	c.smu.Unlock()
	return st
}

func (c *Coordinator) enter(p lifecycle.Phase) {
	c.mu.Lock()
	from := c.phase
	c.phase = p
	c.mu.Unlock()

	c.logger.Info("Lifecycle transition", "from", from, "to", p)
	c.publish(events.PhaseChangedEvent{
		From:      from.String(),
		To:        p.String(),
		Timestamp: now(),
	})
}

func (c *Coordinator) currentPhase() lifecycle.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// submit queues a step. A teardown cancels the Resume and Reconfigure steps
// queued or running before it; a release also cancels Start.
func (c *Coordinator) submit(name string, kind stepKind, run func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)

	c.qmu.Lock()
	if c.stopped {
		c.qmu.Unlock()
		c.logger.Warn("Step submitted after destroy", "step", name)
		done <- ErrDestroyed
		return done
	}
	ctx := c.bringCtx
	switch kind {
	case kindOpen:
		ctx = c.openCtx
	case kindRelease:
		c.openCancel()
		c.openCtx, c.openCancel = context.WithCancel(c.root)
		fallthrough
	case kindPause:
		c.bringCancel()
		c.bringCtx, c.bringCancel = context.WithCancel(c.root)
		ctx = c.root
	}
	if name == "destroy" {
		c.stopped = true
	}
	c.queue = append(c.queue, step{name: name, kind: kind, ctx: ctx, run: run, done: done})
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return done
}

func (c *Coordinator) sequence() {
	defer close(c.done)
	for {
		c.qmu.Lock()
		if len(c.queue) == 0 {
			c.qmu.Unlock()
			<-c.wake
			continue
		}
		st := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		err := c.runStep(st)
		st.done <- err
		if st.name == "destroy" {
			c.cancelRoot()
			return
		}
	}
}

func (c *Coordinator) runStep(st step) error {
	if st.name == "flush" {
		return st.run(st.ctx)
	}
	started := time.Now()
	c.logger.Debug("Step started", "step", st.name, "teardown", st.kind.teardown())

	err := st.run(st.ctx)
	switch {
	case err == nil:
		c.logger.Debug("Step finished", "step", st.name, "elapsed", time.Since(started))
	case st.ctx.Err() != nil && errors.Is(err, context.Canceled):
		c.logger.Info("Step pre-empted by teardown", "step", st.name)
	default:
		c.fail(st.name, c.configuredDeviceID(), err)
	}
	return err
}

// fail logs a step failure and publishes it.
func (c *Coordinator) fail(stepName, deviceID string, err error) {
	c.logger.Error("Lifecycle step failed", "step", stepName, "device", deviceID, "error", err)

	c.mu.Lock()
	c.lastErr = fmt.Sprintf("%s: %v", stepName, err)
	c.mu.Unlock()

	c.publish(events.CameraErrorEvent{
		DeviceID:  deviceID,
		Step:      stepName,
		Code:      errorCode(err),
		Error:     err.Error(),
		Timestamp: now(),
	})
}

func (c *Coordinator) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func (c *Coordinator) previewSettings() Preview {
	return *c.preview.Load()
}

func (c *Coordinator) configuredDeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// resolveDevice returns the configured device ID, picking the first ready
// device when none is configured.
func (c *Coordinator) resolveDevice(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.deviceID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	devices, err := c.manager.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.Ready {
			id = d.ID
			break
		}
	}
	if id == "" {
		return "", camera.ErrDeviceNotFound
	}

	c.mu.Lock()
	if c.deviceID == "" {
		c.deviceID = id
	}
	id = c.deviceID
	c.mu.Unlock()
	c.logger.Info("Selected camera", "device", id)
	return id, nil
}

// capabilities returns the sorted capabilities of the camera, querying the
// backend once.
func (c *Coordinator) capabilities(ctx context.Context) (camera.Capabilities, error) {
	c.mu.Lock()
	cached := c.caps
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	id, err := c.resolveDevice(ctx)
	if err != nil {
		return camera.Capabilities{}, err
	}
	caps, err := negotiate.Capabilities(ctx, c.manager, id)
	if err != nil {
		return camera.Capabilities{}, err
	}
	c.logger.Debug("Camera capabilities", "device", id,
		"sizes", len(caps.Sizes), "fps_ranges", len(caps.FPSRanges), "format", caps.Format)

	c.mu.Lock()
	c.caps = &caps
	c.mu.Unlock()
	return caps, nil
}

// ceiling is the configured size cap clipped to the canvas capacity.
func (c *Coordinator) ceiling() camera.Size {
	limit := c.canvas.Max()
	p := c.previewSettings()
	if p.MaxWidth > 0 {
		limit.Width = min(limit.Width, p.MaxWidth)
	}
	if p.MaxHeight > 0 {
		limit.Height = min(limit.Height, p.MaxHeight)
	}
	return limit
}

func errorCode(err error) string {
	var ce *camera.Error
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	var ne *negotiate.Error
	if errors.As(err, &ne) {
		return string(ne.Code)
	}
	switch {
	case errors.Is(err, handoff.ErrClosed):
		return "CLOSED"
	case errors.Is(err, ErrResourceHeld):
		return "RESOURCE_HELD"
	case errors.Is(err, camera.ErrDeviceNotFound):
		return "NOT_FOUND"
	}
	return ""
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
