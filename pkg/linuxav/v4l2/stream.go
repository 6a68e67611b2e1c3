//go:build linux && (amd64 || arm64)

package v4l2

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by Dequeue when no buffer became ready in time.
var ErrTimeout = errors.New("v4l2: timed out waiting for buffer")

// ErrStreamClosed is returned by operations on a closed stream.
var ErrStreamClosed = errors.New("v4l2: stream closed")

// Format is the negotiated capture format.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Buffer describes a dequeued capture buffer. Its memory is Stream.Buffer
// (Index) until it is queued again.
type Buffer struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
	Timestamp time.Duration
}

// Stream is an open capture device streaming into memory mapped buffers.
// Queue and Dequeue may be called from different goroutines; setup calls
// must happen before Start.
type Stream struct {
	path string

	mu      sync.Mutex
	fd      int
	buffers [][]byte
	on      bool
	closed  bool
}

// OpenStream opens the device node for capture.
func OpenStream(devicePath string) (*Stream, error) {
	fd, err := open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", devicePath, err)
	}
	return &Stream{path: devicePath, fd: fd}, nil
}

// Path returns the device node.
func (s *Stream) Path() string {
	return s.path
}

// SetFormat asks the driver for a progressive capture format. The driver may
// adjust the request; the returned Format is what it accepted.
func (s *Stream) SetFormat(width, height, pixelFormat uint32) (Format, error) {
	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixelFormat
	f.pix.field = v4l2FieldNone

	if err := s.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("failed to set format %dx%d %s: %w", width, height, FormatFourCC(pixelFormat), err)
	}
	return formatFromPix(&f.pix), nil
}

// GetFormat returns the current capture format.
func (s *Stream) GetFormat() (Format, error) {
	f := v4l2Format{typ: v4l2BufTypeVideoCapture}
	if err := s.ioctl(vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, fmt.Errorf("failed to get format: %w", err)
	}
	return formatFromPix(&f.pix), nil
}

func formatFromPix(p *v4l2PixFormat) Format {
	return Format{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
	}
}

// SetFrameRate requests fps frames per second. Drivers without frame
// interval support return an error the caller may ignore.
func (s *Stream) SetFrameRate(fps uint32) error {
	if fps == 0 {
		return nil
	}
	p := v4l2StreamParm{typ: v4l2BufTypeVideoCapture}
	p.capture.capability = v4l2CapTimePerFrame
	p.capture.timeperframe = v4l2Fract{numerator: 1, denominator: fps}
	if err := s.ioctl(vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return fmt.Errorf("failed to set frame rate %d: %w", fps, err)
	}
	return nil
}

// SetControl sets a device control such as CtrlFocusAuto.
func (s *Stream) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	if err := s.ioctl(vidiocSCtrl, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("failed to set control 0x%08x=%d: %w", id, value, err)
	}
	return nil
}

// RequestBuffers allocates count driver buffers, maps them and queues them
// for capture. The driver may grant fewer; NumBuffers reports the result.
func (s *Stream) RequestBuffers(count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	if len(s.buffers) > 0 {
		return fmt.Errorf("buffers already requested on %s", s.path)
	}

	req := v4l2RequestBuffers{count: count, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
	if err := xioctl(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("failed to request %d buffers: %w", count, err)
	}
	if req.count == 0 {
		return fmt.Errorf("driver granted no buffers on %s", s.path)
	}

	for i := uint32(0); i < req.count; i++ {
		buf := v4l2Buffer{index: i, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
		if err := xioctl(s.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			s.unmapLocked()
			return fmt.Errorf("failed to query buffer %d: %w", i, err)
		}
		mem, err := unix.Mmap(s.fd, buf.offset(), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			s.unmapLocked()
			return fmt.Errorf("failed to map buffer %d: %w", i, err)
		}
		s.buffers = append(s.buffers, mem)
	}

	for i := range s.buffers {
		if err := s.queueLocked(uint32(i)); err != nil {
			s.unmapLocked()
			return err
		}
	}
	return nil
}

// ReleaseBuffers stops streaming, unmaps the buffers and frees them in the
// driver so the format can be changed and buffers requested again.
func (s *Stream) ReleaseBuffers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	stopErr := s.stopLocked()
	s.unmapLocked()

	req := v4l2RequestBuffers{count: 0, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
	if err := xioctl(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("failed to free buffers: %w", err)
	}
	return stopErr
}

// NumBuffers returns the number of mapped buffers.
func (s *Stream) NumBuffers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Buffer returns the mapped memory of buffer i.
func (s *Stream) Buffer(i uint32) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(i) >= len(s.buffers) {
		return nil
	}
	return s.buffers[i]
}

// Start turns streaming on.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := xioctl(s.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	s.on = true
	return nil
}

// Stop turns streaming off. All buffers return to the application.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Stream) stopLocked() error {
	if !s.on {
		return nil
	}
	s.on = false
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := xioctl(s.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to stop streaming: %w", err)
	}
	return nil
}

// Queue hands buffer i back to the driver.
func (s *Stream) Queue(i uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return s.queueLocked(i)
}

func (s *Stream) queueLocked(i uint32) error {
	buf := v4l2Buffer{index: i, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
	if err := xioctl(s.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to queue buffer %d: %w", i, err)
	}
	return nil
}

// Dequeue waits up to timeout for a filled buffer. It returns ErrTimeout
// when none arrived and unix.ENODEV once the device is unplugged.
func (s *Stream) Dequeue(timeout time.Duration) (Buffer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Buffer{}, ErrStreamClosed
	}
	fd := s.fd
	s.mu.Unlock()

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return Buffer{}, ErrTimeout
		}
		return Buffer{}, fmt.Errorf("poll failed: %w", err)
	}
	if n == 0 {
		return Buffer{}, ErrTimeout
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 && fds[0].Revents&unix.POLLIN == 0 {
		return Buffer{}, unix.ENODEV
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Buffer{}, ErrStreamClosed
	}

	buf := v4l2Buffer{typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
	if err := xioctl(s.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Buffer{}, ErrTimeout
		}
		return Buffer{}, fmt.Errorf("failed to dequeue buffer: %w", err)
	}

	return Buffer{
		Index:     buf.index,
		BytesUsed: buf.bytesused,
		Sequence:  buf.sequence,
		Timestamp: time.Duration(buf.timestamp.Sec)*time.Second + time.Duration(buf.timestamp.Usec)*time.Microsecond,
	}, nil
}

// Close stops streaming, unmaps the buffers and closes the device node.
// Slices returned by Buffer must not be used afterwards.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	stopErr := s.stopLocked()
	s.unmapLocked()
	if err := close(s.fd); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return stopErr
}

func (s *Stream) unmapLocked() {
	for _, b := range s.buffers {
		_ = unix.Munmap(b)
	}
	s.buffers = nil
}

func (s *Stream) ioctl(req uint, arg unsafe.Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	return xioctl(s.fd, req, arg)
}
