//go:build !(linux && (amd64 || arm64))

package v4l2cam

import (
	"context"
	"errors"

	"github.com/smazurov/theia/internal/camera"
)

// ErrUnsupported is returned on platforms without V4L2 streaming support.
var ErrUnsupported = errors.New("v4l2cam: V4L2 capture requires linux on amd64 or arm64")

// Manager is a placeholder that fails every call.
type Manager struct{}

// NewManager returns a manager whose calls fail with ErrUnsupported.
func NewManager() *Manager { return &Manager{} }

// Run blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *Manager) ListDevices(context.Context) ([]camera.DeviceInfo, error) {
	return nil, ErrUnsupported
}

func (m *Manager) Capabilities(context.Context, string) (camera.Capabilities, error) {
	return camera.Capabilities{}, ErrUnsupported
}

func (m *Manager) Open(string, camera.DeviceCallback) error {
	return ErrUnsupported
}

func (m *Manager) NewReader(camera.Size, camera.PixelFormat, int) (camera.Reader, error) {
	return nil, ErrUnsupported
}
