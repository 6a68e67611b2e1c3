package synthetic

import (
	"sync"
	"time"

	"github.com/smazurov/theia/internal/camera"
)

type buffer struct {
	data []byte
	seq  uint64
	ts   time.Duration
}

// Reader is a fixed pool of frame buffers.
type Reader struct {
	manager   *Manager
	size      camera.Size
	layout    Layout
	padding   int
	maxImages int
	start     time.Time

	mu          sync.Mutex
	free        []*buffer
	ready       *buffer
	outstanding int
	seq         uint64
	onAvailable func()
	closed      bool
	stalled     uint64
}

func newReader(m *Manager, size camera.Size, layout Layout, padding, maxImages int) *Reader {
	r := &Reader{
		manager:   m,
		size:      size,
		layout:    layout,
		padding:   padding,
		maxImages: maxImages,
		start:     time.Now(),
	}
	n := frameBytes(size, layout, padding)
	for i := 0; i < maxImages; i++ {
		r.free = append(r.free, &buffer{data: make([]byte, n)})
	}
	return r
}

func (r *Reader) Size() camera.Size          { return r.size }
func (r *Reader) Format() camera.PixelFormat { return camera.FormatYUV420 }
func (r *Reader) MaxImages() int             { return r.maxImages }

// SetOnImageAvailable registers fn. It runs on the producer goroutine.
func (r *Reader) SetOnImageAvailable(fn func()) {
	r.mu.Lock()
	r.onAvailable = fn
	r.mu.Unlock()
}

// Emit renders one frame into a free buffer and signals availability. When
// every buffer is held by the consumer the frame is skipped, as a sensor
// stalls on a starved pool. It reports whether a frame was produced.
func (r *Reader) Emit() bool {
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
		// Overwrite the frame nobody acquired yet.
		b = r.ready
		r.ready = nil
	default:
		r.stalled++
		r.mu.Unlock()
		return false
	}
	r.seq++
	b.seq = r.seq
	b.ts = time.Since(r.start)
	r.mu.Unlock()

	fill(b.data, r.size, r.layout, r.padding, b.seq)

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
	r.ready = nil
	r.outstanding++

	planes := slicePlanes(b.data, r.size, r.layout, r.padding)
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

// Stalled returns the number of frames skipped for lack of a free buffer.
func (r *Reader) Stalled() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stalled
}

// Close drops the pool. Outstanding frames stay valid until released.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.free = nil
	r.ready = nil
	r.onAvailable = nil
	outstanding := r.outstanding
	r.mu.Unlock()

	r.manager.record("close reader %s outstanding=%d", r.size, outstanding)
	return nil
}
