// Package negotiate picks a preview size and frame-rate range from the
// capabilities a sensor reports.
package negotiate

import (
	"context"
	"fmt"
	"sort"

	"github.com/smazurov/theia/internal/camera"
)

// ErrorCode represents configuration failures.
type ErrorCode string

// ErrorCode constants.
const (
	ErrNoPreviewSize ErrorCode = "NO_PREVIEW_SIZE"
	ErrNoFPSRange    ErrorCode = "NO_FPS_RANGE"
)

// Error is a configuration error: nothing the device offers fits.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches errors with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// PreviewSize returns the first supported size, searching from the largest
// down, that fits within the surface and, when ceiling is not nil, within
// the ceiling. supported is expected in increasing order, so the result is
// the largest size that fits both bounds.
func PreviewSize(supported []camera.Size, surface camera.Size, ceiling *camera.Size) (camera.Size, error) {
	for i := len(supported) - 1; i >= 0; i-- {
		s := supported[i]
		if !s.Within(surface) {
			continue
		}
		if ceiling != nil && !s.Within(*ceiling) {
			continue
		}
		return s, nil
	}

	msg := fmt.Sprintf("no preview size fits surface %s", surface)
	if ceiling != nil {
		msg += fmt.Sprintf(" and ceiling %s", *ceiling)
	}
	return camera.Size{}, &Error{Code: ErrNoPreviewSize, Message: msg}
}

// FPSRange returns the range with the highest upper bound. ranges is
// expected in increasing order, so that is the last entry.
func FPSRange(ranges []camera.FPSRange) (camera.FPSRange, error) {
	if len(ranges) == 0 {
		return camera.FPSRange{}, &Error{Code: ErrNoFPSRange, Message: "no FPS found"}
	}
	return ranges[len(ranges)-1], nil
}

// Capabilities fetches the device capabilities and sorts both lists
// ascending, sizes by area then width, ranges by upper then lower bound.
func Capabilities(ctx context.Context, m camera.Manager, deviceID string) (camera.Capabilities, error) {
	caps, err := m.Capabilities(ctx, deviceID)
	if err != nil {
		return camera.Capabilities{}, fmt.Errorf("failed to query capabilities for %s: %w", deviceID, err)
	}

	sizes := append([]camera.Size(nil), caps.Sizes...)
	sort.SliceStable(sizes, func(i, j int) bool {
		ai := sizes[i].Width * sizes[i].Height
		aj := sizes[j].Width * sizes[j].Height
		if ai != aj {
			return ai < aj
		}
		return sizes[i].Width < sizes[j].Width
	})

	ranges := append([]camera.FPSRange(nil), caps.FPSRanges...)
	sort.SliceStable(ranges, func(i, j int) bool {
		if ranges[i].Upper != ranges[j].Upper {
			return ranges[i].Upper < ranges[j].Upper
		}
		return ranges[i].Lower < ranges[j].Lower
	})

	caps.Sizes = sizes
	caps.FPSRanges = ranges
	return caps, nil
}
