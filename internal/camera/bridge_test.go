package camera

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDevice struct {
	id      string
	closed  atomic.Int32
	session func(out Reader, cb SessionCallback) error
}

func (d *fakeDevice) ID() string { return d.id }

func (d *fakeDevice) CreateSession(out Reader, cb SessionCallback) error {
	if d.session != nil {
		return d.session(out, cb)
	}
	go cb.OnConfigured(&fakeSession{})
	return nil
}

func (d *fakeDevice) Close() error {
	d.closed.Add(1)
	return nil
}

type fakeSession struct {
	closed atomic.Int32
}

func (s *fakeSession) SetRepeatingRequest(Request) error { return nil }

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeManager hands the callback to open so each test decides when and how
// the backend answers.
type fakeManager struct {
	Manager
	open func(id string, cb DeviceCallback) error
}

func (m *fakeManager) Open(id string, cb DeviceCallback) error {
	return m.open(id, cb)
}

func TestOpenDeviceDelivers(t *testing.T) {
	dev := &fakeDevice{id: "cam0"}
	m := &fakeManager{open: func(_ string, cb DeviceCallback) error {
		go cb.OnOpened(dev)
		return nil
	}}

	got, err := OpenDevice(context.Background(), m, "cam0", nil)
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	if got != dev {
		t.Errorf("OpenDevice() = %v, want %v", got, dev)
	}
	if n := dev.closed.Load(); n != 0 {
		t.Errorf("device closed %d times, want 0", n)
	}
}

func TestOpenDeviceErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		fire func(cb DeviceCallback, d Device)
		want ErrorCode
	}{
		{
			name: "disconnected before open",
			fire: func(cb DeviceCallback, d Device) { cb.OnDisconnected(d) },
			want: ErrDisconnected,
		},
		{
			name: "in use",
			fire: func(cb DeviceCallback, d Device) { cb.OnError(d, ErrInUse) },
			want: ErrInUse,
		},
		{
			name: "service error",
			fire: func(cb DeviceCallback, d Device) { cb.OnError(d, ErrService) },
			want: ErrService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{id: "cam0"}
			m := &fakeManager{open: func(_ string, cb DeviceCallback) error {
				go tt.fire(cb, dev)
				return nil
			}}

			_, err := OpenDevice(context.Background(), m, "cam0", nil)
			if !IsCode(err, tt.want) {
				t.Fatalf("OpenDevice() error = %v, want code %s", err, tt.want)
			}
			if dev.closed.Load() != 1 {
				t.Errorf("device closed %d times, want 1", dev.closed.Load())
			}
		})
	}
}

func TestOpenDeviceSyncError(t *testing.T) {
	boom := errors.New("no such node")
	m := &fakeManager{open: func(string, DeviceCallback) error { return boom }}

	if _, err := OpenDevice(context.Background(), m, "cam0", nil); !errors.Is(err, boom) {
		t.Errorf("OpenDevice() error = %v, want %v", err, boom)
	}
}

func TestOpenDeviceLateOpenIsClosed(t *testing.T) {
	dev := &fakeDevice{id: "cam0"}
	var saved DeviceCallback
	m := &fakeManager{open: func(_ string, cb DeviceCallback) error {
		saved = cb
		return nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := OpenDevice(ctx, m, "cam0", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("OpenDevice() error = %v, want DeadlineExceeded", err)
	}

	saved.OnOpened(dev)
	if dev.closed.Load() != 1 {
		t.Errorf("late device closed %d times, want 1", dev.closed.Load())
	}
}

func TestOpenDeviceLostAfterOpen(t *testing.T) {
	dev := &fakeDevice{id: "cam0"}
	var saved DeviceCallback
	m := &fakeManager{open: func(_ string, cb DeviceCallback) error {
		saved = cb
		cb.OnOpened(dev)
		return nil
	}}

	lost := make(chan error, 1)
	_, err := OpenDevice(context.Background(), m, "cam0", func(_ Device, err error) {
		lost <- err
	})
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}

	saved.OnDisconnected(dev)

	select {
	case err := <-lost:
		if !IsCode(err, ErrDisconnected) {
			t.Errorf("onLost error = %v, want DISCONNECTED", err)
		}
	case <-time.After(time.Second):
		t.Fatal("onLost not called")
	}
	if dev.closed.Load() != 1 {
		t.Errorf("device closed %d times, want 1", dev.closed.Load())
	}
}

func TestConfigureSession(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		dev := &fakeDevice{id: "cam0"}
		s, err := ConfigureSession(context.Background(), dev, nil)
		if err != nil {
			t.Fatalf("ConfigureSession() error = %v", err)
		}
		if s == nil {
			t.Fatal("ConfigureSession() returned nil session")
		}
	})

	t.Run("configure failed", func(t *testing.T) {
		sess := &fakeSession{}
		dev := &fakeDevice{id: "cam0", session: func(_ Reader, cb SessionCallback) error {
			go cb.OnConfigureFailed(sess)
			return nil
		}}
		_, err := ConfigureSession(context.Background(), dev, nil)
		if !IsCode(err, ErrConfigureFailed) {
			t.Fatalf("ConfigureSession() error = %v, want CONFIGURE_FAILED", err)
		}
		if sess.closed.Load() != 1 {
			t.Errorf("failed session closed %d times, want 1", sess.closed.Load())
		}
	})

	t.Run("late configure is closed", func(t *testing.T) {
		var saved SessionCallback
		dev := &fakeDevice{id: "cam0", session: func(_ Reader, cb SessionCallback) error {
			saved = cb
			return nil
		}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := ConfigureSession(ctx, dev, nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("ConfigureSession() error = %v, want Canceled", err)
		}

		sess := &fakeSession{}
		saved.OnConfigured(sess)
		if sess.closed.Load() != 1 {
			t.Errorf("late session closed %d times, want 1", sess.closed.Load())
		}
	})
}

func TestFrameReleaseOnce(t *testing.T) {
	var calls int
	f := NewFrame(4, 4, [3]Plane{}, 0, 1, func() { calls++ })

	if err := f.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := f.Release(); !errors.Is(err, ErrFrameReleased) {
		t.Errorf("second Release() error = %v, want ErrFrameReleased", err)
	}
	if calls != 1 {
		t.Errorf("release func called %d times, want 1", calls)
	}
	if !f.Released() {
		t.Error("Released() = false after release")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(ErrInUse, "cam0")
	want := "[IN_USE] Device already in use (device cam0)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsCode(err, ErrInUse) || IsCode(err, ErrDevice) {
		t.Error("IsCode mismatch")
	}
}
