//go:build linux

// Package hotplug reads kernel uevents from a netlink socket without cgo
// and turns device removals into per-device notifications.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"golang.org/x/sys/unix"
)

// Uevent actions the package acts on.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// Subsystem names used for filtering.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemUSB         = "usb"
)

// netlinkKobjectUEvent is NETLINK_KOBJECT_UEVENT; group 1 carries the
// kernel's own broadcasts.
const (
	netlinkKobjectUEvent = 15
	kernelGroup          = 1
)

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string // sysfs path below /sys, e.g. /devices/.../video4linux/video0
	Subsystem string
	DevName   string // node name below /dev, e.g. video0
	Seq       uint64
	Env       map[string]string
}

// Monitor is a netlink uevent socket. Events whose subsystem is not in
// the set given to NewMonitor are skipped; an empty set passes all.
type Monitor struct {
	fd         int
	subsystems map[string]bool
}

// NewMonitor opens the uevent socket.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	// Recvfrom wakes up every second so Run notices cancellation.
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	m := &Monitor{fd: fd, subsystems: make(map[string]bool, len(subsystems))}
	for _, s := range subsystems {
		m.subsystems[s] = true
	}
	return m, nil
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

func (m *Monitor) wants(ev Event) bool {
	return len(m.subsystems) == 0 || m.subsystems[ev.Subsystem]
}

// Run sends events to out until ctx is done or the socket fails. out is
// closed when Run returns.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)

	buf := make([]byte, 16<<10)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return err
		}

		ev, ok := ParseUEvent(buf[:n])
		if !ok || !m.wants(ev) {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseUEvent decodes a kernel uevent: "action@kobj" followed by
// NUL-separated KEY=VALUE pairs. Messages relayed by udev, which start
// with a "libudev" header, are rejected.
func ParseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		return Event{}, false
	}

	header, rest, _ := bytes.Cut(data, []byte{0})
	action, kobj, ok := bytes.Cut(header, []byte("@"))
	if !ok || len(action) == 0 {
		return Event{}, false
	}

	ev := Event{
		Action: string(action),
		KObj:   string(kobj),
		Env:    make(map[string]string),
	}
	for len(rest) > 0 {
		var field []byte
		field, rest, _ = bytes.Cut(rest, []byte{0})
		key, value, ok := bytes.Cut(field, []byte("="))
		if !ok || len(key) == 0 {
			continue
		}
		k, v := string(key), string(value)
		ev.Env[k] = v
		switch k {
		case "SUBSYSTEM":
			ev.Subsystem = v
		case "DEVNAME":
			ev.DevName = v
		case "SEQNUM":
			ev.Seq, _ = strconv.ParseUint(v, 10, 64)
		}
	}
	return ev, true
}
