//go:build linux && (amd64 || arm64)

package v4l2cam

import (
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/pkg/linuxav/v4l2"
)

// layout is the plane geometry of the negotiated format.
type layout struct {
	fourcc       uint32
	width        int
	height       int
	bytesPerLine int
}

func (l layout) frameBytes() int {
	ch := (l.height + 1) / 2
	switch l.fourcc {
	case v4l2.PixFmtNV12, v4l2.PixFmtNV21:
		return l.bytesPerLine*l.height + l.bytesPerLine*ch
	default:
		return l.bytesPerLine*l.height + 2*(l.bytesPerLine/2)*ch
	}
}

// planes slices a captured buffer into luma and chroma views. Semi-planar
// chroma planes overlap: NV12 starts U one byte before V, NV21 the reverse.
func (l layout) planes(buf []byte) ([3]camera.Plane, error) {
	if len(buf) < l.frameBytes() {
		return [3]camera.Plane{}, fmt.Errorf("short buffer: %d bytes, want %d", len(buf), l.frameBytes())
	}
	lumaEnd := l.bytesPerLine * l.height
	y := camera.Plane{Data: buf[:lumaEnd], RowStride: l.bytesPerLine, PixelStride: 1}
	ch := (l.height + 1) / 2

	switch l.fourcc {
	case v4l2.PixFmtNV12, v4l2.PixFmtNV21:
		c := buf[lumaEnd : lumaEnd+l.bytesPerLine*ch]
		first := camera.Plane{Data: c, RowStride: l.bytesPerLine, PixelStride: 2}
		second := camera.Plane{Data: c[1:], RowStride: l.bytesPerLine, PixelStride: 2}
		if l.fourcc == v4l2.PixFmtNV21 {
			first, second = second, first
		}
		return [3]camera.Plane{y, first, second}, nil
	case v4l2.PixFmtYUV420, v4l2.PixFmtYVU420:
		cs := l.bytesPerLine / 2
		a := buf[lumaEnd : lumaEnd+cs*ch]
		b := buf[lumaEnd+cs*ch : lumaEnd+2*cs*ch]
		if l.fourcc == v4l2.PixFmtYVU420 {
			a, b = b, a
		}
		return [3]camera.Plane{
			y,
			{Data: a, RowStride: cs, PixelStride: 1},
			{Data: b, RowStride: cs, PixelStride: 1},
		}, nil
	default:
		return [3]camera.Plane{}, fmt.Errorf("unsupported pixel format %s", v4l2.FormatFourCC(l.fourcc))
	}
}

type buffer struct {
	data []byte
	seq  uint64
	ts   time.Duration
}

// Reader holds copies of captured buffers so frames stay valid after the
// driver buffer is queued again.
type Reader struct {
	size      camera.Size
	maxImages int

	mu          sync.Mutex
	layout      layout
	free        []*buffer
	ready       *buffer
	outstanding int
	onAvailable func()
	closed      bool
	dropped     uint64
}

func newReader(size camera.Size, maxImages int) *Reader {
	return &Reader{size: size, maxImages: maxImages}
}

func (r *Reader) Size() camera.Size          { return r.size }
func (r *Reader) Format() camera.PixelFormat { return camera.FormatYUV420 }
func (r *Reader) MaxImages() int             { return r.maxImages }

// SetOnImageAvailable registers fn. It runs on the capture goroutine.
func (r *Reader) SetOnImageAvailable(fn func()) {
	r.mu.Lock()
	r.onAvailable = fn
	r.mu.Unlock()
}

// bind sizes the pool for the format the driver accepted.
func (r *Reader) bind(l layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layout = l
	r.free = r.free[:0]
	r.ready = nil
	for i := 0; i < r.maxImages; i++ {
		r.free = append(r.free, &buffer{data: make([]byte, l.frameBytes())})
	}
}

// deliver copies a captured buffer into the pool. It returns false when the
// consumer holds every buffer and the frame was dropped.
func (r *Reader) deliver(src []byte, seq uint64, ts time.Duration) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	var b *buffer
	switch {
	case len(r.free) > 0:
		b = r.free[len(r.free)-1]
		r.free = r.free[:len(r.free)-1]
	case r.ready != nil:
		b = r.ready
		r.ready = nil
	default:
		r.dropped++
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	copy(b.data, src)
	b.seq = seq
	b.ts = ts

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.ready != nil {
		r.free = append(r.free, r.ready)
	}
	r.ready = b
	cb := r.onAvailable
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// AcquireLatest hands out the newest frame.
func (r *Reader) AcquireLatest() (*camera.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, camera.ErrReaderClosed
	}
	b := r.ready
	if b == nil {
		return nil, camera.ErrNoImage
	}
	planes, err := r.layout.planes(b.data)
	if err != nil {
		return nil, err
	}
	r.ready = nil
	r.outstanding++

	return camera.NewFrame(r.size.Width, r.size.Height, planes, b.ts, b.seq, func() {
		r.put(b)
	}), nil
}

func (r *Reader) put(b *buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outstanding--
	if !r.closed {
		r.free = append(r.free, b)
	}
}

// Outstanding returns the number of acquired, unreleased frames.
func (r *Reader) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outstanding
}

// Close drops the pool. Outstanding frames keep their buffers until
// released.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.free = nil
	r.ready = nil
	r.onAvailable = nil
	return nil
}
