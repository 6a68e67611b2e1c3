//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// withDevice opens devicePath for the duration of fn.
func withDevice(devicePath string, fn func(fd int) error) error {
	fd, err := open(devicePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", devicePath, err)
	}
	defer close(fd)
	return fn(fd)
}

// enumerate runs one VIDIOC_ENUM_* query per index until the driver ends
// the list with EINVAL or query asks to stop.
func enumerate(what string, query func(index uint32) (more bool, err error)) error {
	for i := uint32(0); ; i++ {
		more, err := query(i)
		switch {
		case errors.Is(err, unix.EINVAL):
			return nil
		case err != nil:
			return fmt.Errorf("enumerate %s %d: %w", what, i, err)
		case !more:
			return nil
		}
	}
}

// GetFormats lists the capture pixel formats of a device.
func GetFormats(devicePath string) ([]FormatInfo, error) {
	var formats []FormatInfo
	err := withDevice(devicePath, func(fd int) error {
		return enumerate("format", func(i uint32) (bool, error) {
			desc := v4l2Fmtdesc{index: i, typ: v4l2BufTypeVideoCapture}
			if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
				return false, err
			}
			formats = append(formats, FormatInfo{
				PixelFormat: desc.pixelformat,
				FormatName:  cstr(desc.description[:]),
				Emulated:    desc.flags&v4l2FmtFlagEmulated != 0,
			})
			return true, nil
		})
	})
	return formats, err
}

// standardSizes are offered for drivers that describe a size range rather
// than a list.
var standardSizes = []Resolution{
	{320, 240}, {640, 480}, {800, 600}, {1024, 768},
	{1280, 720}, {1280, 960}, {1280, 1024},
	{1920, 1080}, {1920, 1200}, {2560, 1440},
	{3840, 2160}, {4096, 2160},
}

// GetResolutions lists the frame sizes of a device for one pixel format.
// A driver that does not enumerate sizes yields an empty list.
func GetResolutions(devicePath string, pixelFormat uint32) ([]Resolution, error) {
	var sizes []Resolution
	err := withDevice(devicePath, func(fd int) error {
		return enumerate("frame size", func(i uint32) (bool, error) {
			fs := v4l2Frmsizeenum{index: i, pixelFormat: pixelFormat}
			if err := ioctl(fd, vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
				if errors.Is(err, unix.ENOTTY) {
					return false, nil
				}
				return false, err
			}
			if fs.typ == v4l2FrmsizeTypeDiscrete {
				sizes = append(sizes, Resolution{Width: fs.discrete.width, Height: fs.discrete.height})
				return true, nil
			}
			// A range is reported once, at index 0.
			sizes = append(sizes, sizesWithin(stepwiseSize(&fs))...)
			return false, nil
		})
	})
	return sizes, err
}

func stepwiseSize(fs *v4l2Frmsizeenum) *v4l2FrmsizeStepwise {
	return (*v4l2FrmsizeStepwise)(unsafe.Pointer(&fs.discrete))
}

// sizesWithin returns the standard sizes inside a size range.
func sizesWithin(r *v4l2FrmsizeStepwise) []Resolution {
	var out []Resolution
	for _, s := range standardSizes {
		if s.Width >= r.minWidth && s.Width <= r.maxWidth && s.Height >= r.minHeight && s.Height <= r.maxHeight {
			out = append(out, s)
		}
	}
	return out
}

// GetFramerates lists the frame intervals of a device for one format and
// size. For an interval range only its two ends are returned: the fastest
// and the slowest rate.
func GetFramerates(devicePath string, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	var rates []Framerate
	err := withDevice(devicePath, func(fd int) error {
		return enumerate("frame interval", func(i uint32) (bool, error) {
			fi := v4l2Frmivalenum{index: i, pixelFormat: pixelFormat, width: width, height: height}
			if err := ioctl(fd, vidiocEnumFrameintervals, unsafe.Pointer(&fi)); err != nil {
				return false, err
			}
			if fi.typ == v4l2FrmivalTypeDiscrete {
				rates = append(rates, Framerate{Numerator: fi.discrete.numerator, Denominator: fi.discrete.denominator})
				return true, nil
			}
			rates = append(rates, intervalBounds(&fi)...)
			return false, nil
		})
	})
	return rates, err
}

// intervalBounds reads the min and max of a stepwise or continuous
// interval, which overlay the discrete member.
func intervalBounds(fi *v4l2Frmivalenum) []Framerate {
	step := (*[3]v4l2Fract)(unsafe.Pointer(&fi.discrete))
	var out []Framerate
	for _, f := range step[:2] {
		if f.numerator != 0 && f.denominator != 0 {
			out = append(out, Framerate{Numerator: f.numerator, Denominator: f.denominator})
		}
	}
	return out
}

// FormatFourCC renders a pixel format code as its four characters.
func FormatFourCC(format uint32) string {
	return string([]byte{byte(format), byte(format >> 8), byte(format >> 16), byte(format >> 24)})
}
