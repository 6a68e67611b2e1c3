//go:build linux && (amd64 || arm64)

package v4l2cam

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/yuv"
	"github.com/smazurov/theia/pkg/linuxav/v4l2"
)

func TestLayoutPlanes(t *testing.T) {
	tests := []struct {
		name   string
		fourcc uint32
		want   yuv.Layout
	}{
		{"NV12", v4l2.PixFmtNV12, yuv.LayoutNV12},
		{"NV21", v4l2.PixFmtNV21, yuv.LayoutNV21},
		{"YU12", v4l2.PixFmtYUV420, yuv.LayoutI420},
		{"YV12", v4l2.PixFmtYVU420, yuv.LayoutI420},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := layout{fourcc: tt.fourcc, width: 4, height: 4, bytesPerLine: 8}
			buf := make([]byte, l.frameBytes())
			planes, err := l.planes(buf)
			if err != nil {
				t.Fatalf("planes() error = %v", err)
			}
			if planes[0].RowStride != 8 || len(planes[0].Data) != 32 {
				t.Errorf("luma stride %d len %d, want 8 and 32", planes[0].RowStride, len(planes[0].Data))
			}

			f := camera.NewFrame(4, 4, planes, 0, 1, nil)
			got, err := yuv.Classify(f)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayoutPlanarOrder(t *testing.T) {
	l := layout{fourcc: v4l2.PixFmtYVU420, width: 4, height: 2, bytesPerLine: 4}
	buf := make([]byte, l.frameBytes())
	planes, err := l.planes(buf)
	if err != nil {
		t.Fatalf("planes() error = %v", err)
	}
	// YV12 stores V before U.
	v := uintptr(unsafe.Pointer(unsafe.SliceData(planes[2].Data)))
	u := uintptr(unsafe.Pointer(unsafe.SliceData(planes[1].Data)))
	if v >= u {
		t.Errorf("V plane at %#x not before U plane at %#x", v, u)
	}
}

func TestLayoutShortBuffer(t *testing.T) {
	l := layout{fourcc: v4l2.PixFmtNV12, width: 4, height: 4, bytesPerLine: 4}
	if _, err := l.planes(make([]byte, 10)); err == nil {
		t.Error("planes() on short buffer returned no error")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want camera.ErrorCode
	}{
		{unix.ENODEV, camera.ErrDisconnected},
		{fmt.Errorf("open: %w", unix.ENOENT), camera.ErrDisconnected},
		{unix.EBUSY, camera.ErrInUse},
		{unix.EACCES, camera.ErrDisabled},
		{unix.EMFILE, camera.ErrMaxInUse},
		{errors.New("boom"), camera.ErrDevice},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestFPSRanges(t *testing.T) {
	got := fpsRanges(map[int]struct{}{30: {}, 15: {}, 5: {}})
	want := []camera.FPSRange{{5, 5}, {15, 15}, {30, 30}, {5, 30}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("fpsRanges() = %v, want %v", got, want)
	}
	if got := fpsRanges(map[int]struct{}{}); len(got) != 0 {
		t.Errorf("fpsRanges(empty) = %v, want none", got)
	}
}

func TestReaderDeliver(t *testing.T) {
	r := newReader(camera.Size{Width: 2, Height: 2}, 1)
	r.bind(layout{fourcc: v4l2.PixFmtNV12, width: 2, height: 2, bytesPerLine: 2})

	var signals int
	r.SetOnImageAvailable(func() { signals++ })

	if _, err := r.AcquireLatest(); !errors.Is(err, camera.ErrNoImage) {
		t.Fatalf("AcquireLatest() error = %v, want ErrNoImage", err)
	}

	src := []byte{10, 20, 30, 40, 128, 128}
	if !r.deliver(src, 1, 0) {
		t.Fatal("deliver() = false on empty pool")
	}
	// The unacquired frame is overwritten.
	src[0] = 11
	if !r.deliver(src, 2, 0) {
		t.Fatal("deliver() = false while only the ready frame is held")
	}
	if signals != 2 {
		t.Errorf("signals = %d, want 2", signals)
	}

	f, err := r.AcquireLatest()
	if err != nil {
		t.Fatalf("AcquireLatest() error = %v", err)
	}
	if f.Sequence != 2 || f.Planes[0].Data[0] != 11 {
		t.Errorf("frame seq %d luma %d, want 2 and 11", f.Sequence, f.Planes[0].Data[0])
	}

	if r.deliver(src, 3, 0) {
		t.Error("deliver() = true with every buffer held")
	}

	_ = r.Close()
	if _, err := r.AcquireLatest(); !errors.Is(err, camera.ErrReaderClosed) {
		t.Errorf("AcquireLatest() after close error = %v, want ErrReaderClosed", err)
	}
	if f.Planes[0].Data[0] != 11 {
		t.Error("outstanding frame changed after reader close")
	}
	if err := f.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if r.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", r.Outstanding())
	}
}
