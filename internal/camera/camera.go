// Package camera defines the hardware sensor contract used by the preview
// pipeline: device enumeration and capabilities, asynchronous open and
// session configuration callbacks, and reader buffer pools that hand out
// YUV 4:2:0 frames.
//
// Backends live in subpackages (v4l2cam for Linux capture devices,
// synthetic for test patterns). Callers normally go through OpenDevice and
// ConfigureSession, which bridge the callback style of a backend into
// blocking, context-aware calls.
package camera

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Size is a frame or surface dimension in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String returns the size as WxH.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Within reports whether s fits inside bound in both dimensions.
func (s Size) Within(bound Size) bool {
	return s.Width <= bound.Width && s.Height <= bound.Height
}

// Empty reports whether either dimension is zero or negative.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// FPSRange is an auto-exposure target frame-rate range.
type FPSRange struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// String returns the range as [lower, upper].
func (r FPSRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Lower, r.Upper)
}

// PixelFormat identifies the layout a reader produces.
type PixelFormat int

// Pixel formats.
const (
	// FormatYUV420 is flexible YUV 4:2:0: three planes whose chroma may be
	// interleaved (pixel stride 2) or fully planar (pixel stride 1).
	FormatYUV420 PixelFormat = iota + 1
)

// String returns the format name.
func (f PixelFormat) String() string {
	switch f {
	case FormatYUV420:
		return "YUV_420_888"
	default:
		return "UNKNOWN"
	}
}

// DeviceInfo describes an enumerated sensor.
type DeviceInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Ready bool   `json:"ready"`
}

// Capabilities lists what a sensor can stream natively.
type Capabilities struct {
	Sizes     []Size     `json:"sizes"`
	FPSRanges []FPSRange `json:"fps_ranges"`
	Format    string     `json:"format,omitempty"`
}

// AFMode is the autofocus mode of a capture request.
type AFMode int

// Autofocus modes.
const (
	AFOff AFMode = iota
	AFContinuousPicture
)

// AEMode is the auto-exposure mode of a capture request.
type AEMode int

// Auto-exposure modes.
const (
	AEOff AEMode = iota
	AEOn
	AEOnAutoFlash
)

// Request is a repeating capture request.
type Request struct {
	AutoFocus    AFMode
	AutoExposure AEMode
	FPSRange     FPSRange
}

// PreviewRequest returns the request used for the live preview: continuous
// autofocus, auto exposure and the given target frame-rate range.
func PreviewRequest(fps FPSRange) Request {
	return Request{
		AutoFocus:    AFContinuousPicture,
		AutoExposure: AEOnAutoFlash,
		FPSRange:     fps,
	}
}

// Plane is one image plane of a frame. Chroma planes of a semi-planar frame
// are overlapping views of the same interleaved memory.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Frame is one image acquired from a Reader. It must be released exactly
// once so the reader can reuse its buffer.
type Frame struct {
	Width     int
	Height    int
	Planes    [3]Plane
	Timestamp time.Duration
	Sequence  uint64

	release  func()
	released atomic.Bool
}

// NewFrame wraps plane data in a Frame. release is called once when the
// frame is released.
func NewFrame(width, height int, planes [3]Plane, ts time.Duration, seq uint64, release func()) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Planes:    planes,
		Timestamp: ts,
		Sequence:  seq,
		release:   release,
	}
}

// Release returns the frame's buffer to its reader. A second call returns
// ErrFrameReleased and does nothing.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrFrameReleased
	}
	if f.release != nil {
		f.release()
	}
	return nil
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// DeviceCallback receives device state changes. Calls arrive on backend
// goroutines.
type DeviceCallback interface {
	OnOpened(d Device)
	OnDisconnected(d Device)
	OnError(d Device, code ErrorCode)
}

// SessionCallback receives the outcome of session configuration.
type SessionCallback interface {
	OnConfigured(s Session)
	OnConfigureFailed(s Session)
}

// Manager enumerates and opens sensors.
type Manager interface {
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
	Capabilities(ctx context.Context, id string) (Capabilities, error)
	// Open starts opening the device; the result arrives on cb. A returned
	// error means no callback will follow.
	Open(id string, cb DeviceCallback) error
	// NewReader creates a buffer pool of at most maxImages in-flight frames.
	NewReader(size Size, format PixelFormat, maxImages int) (Reader, error)
}

// Device is an opened sensor.
type Device interface {
	ID() string
	// CreateSession starts configuring a streaming session that outputs into
	// out; the result arrives on cb.
	CreateSession(out Reader, cb SessionCallback) error
	Close() error
}

// Session is a configured streaming pipeline.
type Session interface {
	SetRepeatingRequest(req Request) error
	Close() error
}

// Reader is a pool of image buffers fed by a session.
type Reader interface {
	Size() Size
	Format() PixelFormat
	MaxImages() int
	// AcquireLatest returns the newest ready frame, dropping older ones.
	// It returns ErrNoImage when nothing is ready.
	AcquireLatest() (*Frame, error)
	// SetOnImageAvailable registers fn to run whenever a new buffer is
	// ready. A nil fn removes the registration.
	SetOnImageAvailable(fn func())
	// Close releases the pool. Buffers still held by unreleased frames are
	// freed when those frames are released.
	Close() error
}
