//go:build linux && (amd64 || arm64)

package v4l2

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported framerate as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// SignalState represents the state of a video signal.
type SignalState int

// Signal states.
const (
	SignalStateNoDevice     SignalState = -1
	SignalStateNoLink       SignalState = 0 // No cable connected
	SignalStateNoSignal     SignalState = 1 // Cable connected, no signal
	SignalStateUnstable     SignalState = 2 // Signal present but unstable
	SignalStateLocked       SignalState = 3 // Signal locked and stable
	SignalStateOutOfRange   SignalState = 4 // Signal out of supported range
	SignalStateNotSupported SignalState = 5 // Device doesn't support DV timings
)

// SignalStatus contains detailed signal information.
type SignalStatus struct {
	State      SignalState
	Width      uint32
	Height     uint32
	FPS        float64
	Interlaced bool
}

// Capability flags.
const (
	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
	v4l2CapDeviceCaps   = 0x80000000
)

// Format flags.
const (
	v4l2FmtFlagEmulated = 0x0002
)

// Pixel formats.
const (
	v4l2PixFmtYUYV  = 0x56595559 // 'YUYV'
	v4l2PixFmtMJPEG = 0x47504A4D // 'MJPG'

	PixFmtNV12   uint32 = 0x3231564E // 'NV12'
	PixFmtNV21   uint32 = 0x3132564E // 'NV21'
	PixFmtYUV420 uint32 = 0x32315559 // 'YU12'
	PixFmtYVU420 uint32 = 0x32315659 // 'YV12'
)

// Enumeration entry types. Anything else is a continuous or stepwise
// range.
const (
	v4l2FrmsizeTypeDiscrete = 1
	v4l2FrmivalTypeDiscrete = 1
)

// Buffer type and memory.
const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2FieldNone           = 1
)

// Capture parameter capability.
const (
	v4l2CapTimePerFrame = 0x1000
)

// Control IDs.
const (
	CtrlExposureAuto uint32 = 0x009a0901
	CtrlFocusAuto    uint32 = 0x009a090c

	ExposureAperturePriority int32 = 3
)
