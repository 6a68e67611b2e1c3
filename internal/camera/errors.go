package camera

import (
	"errors"
	"fmt"
)

// ErrorCode classifies hardware rejections.
type ErrorCode string

// ErrorCode constants for device and session failures.
const (
	ErrDisconnected    ErrorCode = "DISCONNECTED"
	ErrInUse           ErrorCode = "IN_USE"
	ErrMaxInUse        ErrorCode = "MAX_IN_USE"
	ErrDisabled        ErrorCode = "DISABLED"
	ErrDevice          ErrorCode = "DEVICE"
	ErrService         ErrorCode = "SERVICE"
	ErrConfigureFailed ErrorCode = "CONFIGURE_FAILED"
	ErrUnknown         ErrorCode = "UNKNOWN"
)

var codeMessages = map[ErrorCode]string{
	ErrDisconnected:    "Camera disconnected",
	ErrInUse:           "Device already in use",
	ErrMaxInUse:        "Open cameras exist",
	ErrDisabled:        "Device policy does not allow",
	ErrDevice:          "Device encountered a fatal error",
	ErrService:         "Service encountered a fatal error",
	ErrConfigureFailed: "Camera device cannot run this configuration",
	ErrUnknown:         "Unknown error",
}

// Sentinel errors.
var (
	// ErrNoImage is returned by AcquireLatest when no buffer is ready. It is
	// an expected transient, not a failure.
	ErrNoImage = errors.New("no image available")
	// ErrFrameReleased is returned when a frame is used or released after
	// it was already released.
	ErrFrameReleased = errors.New("frame already released")
	// ErrReaderClosed is returned by a closed reader.
	ErrReaderClosed = errors.New("reader closed")
	// ErrDeviceNotFound is returned when a device ID is unknown.
	ErrDeviceNotFound = errors.New("device not found")
)

// Error is a hardware rejection reported by a backend.
type Error struct {
	Code     ErrorCode `json:"code"`
	DeviceID string    `json:"device_id,omitempty"`
	Cause    error     `json:"cause,omitempty"`
}

// NewError creates a camera error for the device.
func NewError(code ErrorCode, deviceID string) *Error {
	return &Error{Code: code, DeviceID: deviceID}
}

// NewErrorWithCause creates a camera error with an underlying cause.
func NewErrorWithCause(code ErrorCode, deviceID string, cause error) *Error {
	return &Error{Code: code, DeviceID: deviceID, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := codeMessages[e.Code]
	if msg == "" {
		msg = codeMessages[ErrUnknown]
	}
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s (device %s)", msg, e.DeviceID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}

// IsCode reports whether err is a camera Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var camErr *Error
	if errors.As(err, &camErr) {
		return camErr.HasCode(code)
	}
	return false
}
