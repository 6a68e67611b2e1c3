//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// GetDVTimings probes the digital video input of devicePath. Devices
// without DV timings, such as UVC webcams, report SignalStateNotSupported.
func GetDVTimings(devicePath string) SignalStatus {
	fd, err := open(devicePath)
	if err != nil {
		return SignalStatus{State: SignalStateNoDevice}
	}
	defer close(fd)

	var timings v4l2DVTimings
	err = ioctl(fd, vidiocGDVTimings, unsafe.Pointer(&timings))
	return signalFromTimings(timings.bt(), err)
}

// signalFromTimings maps a VIDIOC_G_DV_TIMINGS result to a status.
func signalFromTimings(bt v4l2BTTimings, err error) SignalStatus {
	switch {
	case err == nil && bt.width > 0 && bt.height > 0 && bt.pixelclock > 0:
		return SignalStatus{
			State:      SignalStateLocked,
			Width:      bt.width,
			Height:     bt.height,
			FPS:        calculateFPS(&bt),
			Interlaced: bt.interlaced != 0,
		}
	case err == nil:
		return SignalStatus{State: SignalStateNoSignal}
	case errors.Is(err, unix.ENOLINK):
		return SignalStatus{State: SignalStateNoLink}
	case errors.Is(err, unix.ENOLCK):
		return SignalStatus{State: SignalStateUnstable}
	case errors.Is(err, unix.ERANGE):
		return SignalStatus{State: SignalStateOutOfRange}
	case errors.Is(err, unix.ENOTTY), errors.Is(err, unix.EINVAL):
		return SignalStatus{State: SignalStateNotSupported}
	default:
		return SignalStatus{State: SignalStateNoSignal}
	}
}

// Ready reports whether frames can be expected: the input is locked, or
// the device has no DV input to lock.
func (s SignalStatus) Ready() bool {
	return s.State == SignalStateLocked || s.State == SignalStateNotSupported
}

// IsDeviceReady opens devicePath and reports whether it can deliver frames.
func IsDeviceReady(devicePath string) bool {
	return GetDVTimings(devicePath).Ready()
}

// calculateFPS derives the refresh rate from the pixel clock and the total
// frame size including blanking.
func calculateFPS(bt *v4l2BTTimings) float64 {
	totalWidth := uint64(bt.width + bt.hfrontporch + bt.hsync + bt.hbackporch)
	totalHeight := uint64(bt.height + bt.vfrontporch + bt.vsync + bt.vbackporch)
	if bt.interlaced != 0 {
		totalHeight /= 2
	}
	if bt.pixelclock == 0 || totalWidth == 0 || totalHeight == 0 {
		return 0
	}
	return float64(bt.pixelclock) / float64(totalWidth*totalHeight)
}

var signalNames = map[SignalState]string{
	SignalStateNoDevice:     "no_device",
	SignalStateNoLink:       "no_link",
	SignalStateNoSignal:     "no_signal",
	SignalStateUnstable:     "unstable",
	SignalStateLocked:       "locked",
	SignalStateOutOfRange:   "out_of_range",
	SignalStateNotSupported: "not_supported",
}

func (s SignalState) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "unknown"
}
