//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// xioctl retries ioctl while it is interrupted by a signal.
func xioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		err := ioctl(fd, req, arg)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

func close(fd int) error {
	return unix.Close(fd)
}
