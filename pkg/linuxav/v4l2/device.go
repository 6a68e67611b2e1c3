//go:build linux && (amd64 || arm64)

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"
)

const (
	sysfsVideo = "/sys/class/video4linux"
	devByID    = "/dev/v4l/by-id"
)

// FindDevices lists the video nodes that support capture streaming. A
// system without video4linux yields an empty list.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsVideo)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sysfsVideo, err)
	}

	links := byIDLinks(devByID)
	var devices []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()
		path := "/dev/" + name

		caps, err := queryCapability(path)
		if err != nil {
			slog.Debug("Skipping video node", "module", "v4l2", "path", path, "error", err)
			continue
		}
		effective := caps.effectiveCaps()
		if effective&v4l2CapVideoCapture == 0 || effective&v4l2CapStreaming == 0 {
			continue
		}

		index := readSysfsInt(filepath.Join(sysfsVideo, name, "index"))
		devices = append(devices, DeviceInfo{
			DevicePath: path,
			DeviceName: cstr(caps.card[:]),
			DeviceID:   stableID(links, name, index, cstr(caps.busInfo[:])),
			Driver:     cstr(caps.driver[:]),
			Caps:       effective,
		})
	}
	return devices, nil
}

// GetDevicePathByID resolves a stable ID from FindDevices. A node path such
// as /dev/video0 is its own ID.
func GetDevicePathByID(deviceID string) (string, error) {
	devices, err := FindDevices()
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.DeviceID == deviceID || d.DevicePath == deviceID {
			return d.DevicePath, nil
		}
	}
	return "", fmt.Errorf("device %s not found", deviceID)
}

// byIDLinks maps node names to the udev by-id symlinks pointing at them.
func byIDLinks(dir string) map[string][]string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	links := make(map[string][]string)
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		node := filepath.Base(target)
		links[node] = append(links[node], e.Name())
	}
	return links
}

// stableID names a node by its by-id link for the same interface index,
// or builds a name from the bus when udev made none.
func stableID(links map[string][]string, node string, index int, busInfo string) string {
	suffix := "-video-index" + strconv.Itoa(index)
	for _, link := range links[node] {
		if strings.HasSuffix(link, suffix) {
			return link
		}
	}
	if strings.HasPrefix(busInfo, "usb-") {
		return busInfo + suffix
	}
	return "platform-" + busInfo + suffix
}

func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return v
}

// cstr converts a NUL-terminated byte array to a string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func queryCapability(devicePath string) (*v4l2Capability, error) {
	caps := new(v4l2Capability)
	err := withDevice(devicePath, func(fd int) error {
		return ioctl(fd, vidiocQuerycap, unsafe.Pointer(caps))
	})
	return caps, err
}

// effectiveCaps prefers the per-node capabilities when the driver reports
// them.
func (c *v4l2Capability) effectiveCaps() uint32 {
	if c.capabilities&v4l2CapDeviceCaps != 0 {
		return c.deviceCaps
	}
	return c.capabilities
}
