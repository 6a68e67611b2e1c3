// Package framestream turns a reader's image-available callback into a
// cancellable, conflating sequence of frames.
//
// A Stream holds at most one pending frame. When a newer frame arrives
// before the consumer took the pending one, the pending frame is released
// back to the reader and replaced. The consumer therefore always sees the
// newest frame and the reader never starves because of a slow consumer.
package framestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/logging"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("frame stream closed")

// Stats counts stream activity.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Missed    uint64 `json:"missed"`
}

// Stream is a single-slot conflating frame mailbox fed by a reader.
type Stream struct {
	reader camera.Reader
	logger *slog.Logger

	mu      sync.Mutex
	pending *camera.Frame
	closed  bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
	missed    atomic.Uint64
}

// Open registers on reader and returns a stream of its frames.
func Open(reader camera.Reader) *Stream {
	s := &Stream{
		reader: reader,
		logger: logging.GetLogger("stream"),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	reader.SetOnImageAvailable(s.onImageAvailable)
	return s
}

// onImageAvailable runs on the reader's goroutine.
func (s *Stream) onImageAvailable() {
	f, err := s.reader.AcquireLatest()
	if errors.Is(err, camera.ErrNoImage) {
		s.missed.Add(1)
		return
	}
	if err != nil {
		s.logger.Debug("Acquire failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.release(f)
		return
	}
	replaced := s.pending
	s.pending = f
	s.mu.Unlock()

	if replaced != nil {
		s.dropped.Add(1)
		s.release(replaced)
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the pending frame, waiting for one if needed. The caller owns
// the frame and must release it. Next returns ErrClosed after Close and the
// context error once ctx is done, even if a frame is pending.
func (s *Stream) Next(ctx context.Context) (*camera.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if f := s.pending; f != nil {
			s.pending = nil
			s.mu.Unlock()
			s.delivered.Add(1)
			return f, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close deregisters from the reader, releases the pending frame and wakes
// a blocked Next. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.reader.SetOnImageAvailable(nil)

		s.mu.Lock()
		s.closed = true
		f := s.pending
		s.pending = nil
		s.mu.Unlock()

		close(s.done)
		if f != nil {
			s.release(f)
		}
	})
}

// Stats returns the current counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Missed:    s.missed.Load(),
	}
}

func (s *Stream) release(f *camera.Frame) {
	if err := f.Release(); err != nil {
		s.logger.Error("Frame released twice", "seq", f.Sequence, "error", err)
	}
}

// Handler processes one frame. It must not release the frame.
type Handler func(ctx context.Context, f *camera.Frame) error

// Run consumes frames until ctx is done or the stream is closed, calling
// handler for each and releasing the frame afterwards. A frame already
// handed to handler finishes even if ctx is cancelled meanwhile; no frame is
// taken after cancellation. Run returns nil on cancellation or close and the
// handler's error otherwise.
func (s *Stream) Run(ctx context.Context, handler Handler) error {
	for {
		f, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		herr := handler(ctx, f)
		if rerr := f.Release(); rerr != nil {
			return fmt.Errorf("release frame %d: %w", f.Sequence, rerr)
		}
		if herr != nil {
			return herr
		}
	}
}

// Run opens a stream on reader, consumes it with handler and closes it.
func Run(ctx context.Context, reader camera.Reader, handler Handler) error {
	s := Open(reader)
	defer s.Close()
	return s.Run(ctx, handler)
}
