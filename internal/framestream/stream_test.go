package framestream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/theia/internal/camera"
)

// fakeReader hands out the newest pushed frame and counts releases.
type fakeReader struct {
	camera.Reader

	mu       sync.Mutex
	latest   *camera.Frame
	cb       func()
	seq      uint64
	releases map[uint64]*atomic.Int32
	acquired map[uint64]bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		releases: make(map[uint64]*atomic.Int32),
		acquired: make(map[uint64]bool),
	}
}

func (r *fakeReader) SetOnImageAvailable(fn func()) {
	r.mu.Lock()
	r.cb = fn
	r.mu.Unlock()
}

func (r *fakeReader) AcquireLatest() (*camera.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return nil, camera.ErrNoImage
	}
	f := r.latest
	r.latest = nil
	r.acquired[f.Sequence] = true
	return f, nil
}

// push makes a new frame available and fires the callback.
func (r *fakeReader) push() *camera.Frame {
	r.mu.Lock()
	r.seq++
	counter := &atomic.Int32{}
	r.releases[r.seq] = counter
	f := camera.NewFrame(2, 2, [3]camera.Plane{}, 0, r.seq, func() { counter.Add(1) })
	r.latest = f
	cb := r.cb
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
	return f
}

func (r *fakeReader) callback() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cb
}

func (r *fakeReader) releaseCount(seq uint64) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases[seq].Load()
}

func TestConflation(t *testing.T) {
	r := newFakeReader()
	s := Open(r)
	defer s.Close()

	f1 := r.push()
	f2 := r.push()

	got, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got != f2 {
		t.Fatalf("Next() = frame %d, want frame %d", got.Sequence, f2.Sequence)
	}
	if n := r.releaseCount(f1.Sequence); n != 1 {
		t.Errorf("F1 released %d times, want 1", n)
	}
	if n := r.releaseCount(f2.Sequence); n != 0 {
		t.Errorf("F2 released %d times before consumer, want 0", n)
	}
	_ = got.Release()

	stats := s.Stats()
	if stats.Delivered != 1 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v, want delivered 1 dropped 1", stats)
	}
}

func TestMissedImageIsSkipped(t *testing.T) {
	r := newFakeReader()
	s := Open(r)
	defer s.Close()

	r.callback()()

	if got := s.Stats().Missed; got != 1 {
		t.Errorf("Missed = %d, want 1", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want DeadlineExceeded", err)
	}
}

func TestCloseReleasesPendingAndWakesNext(t *testing.T) {
	r := newFakeReader()
	s := Open(r)

	errs := make(chan error, 1)
	go func() {
		for {
			f, err := s.Next(context.Background())
			if err != nil {
				errs <- err
				return
			}
			_ = f.Release()
		}
	}()

	time.Sleep(10 * time.Millisecond)
	cb := r.callback()
	s.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Next() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next not woken by Close")
	}

	if r.callback() != nil {
		t.Error("Close did not deregister the callback")
	}

	// A callback already in flight when Close ran must not leak its frame.
	r.mu.Lock()
	r.seq++
	counter := &atomic.Int32{}
	r.releases[r.seq] = counter
	late := camera.NewFrame(2, 2, [3]camera.Plane{}, 0, r.seq, func() { counter.Add(1) })
	r.latest = late
	r.mu.Unlock()
	cb()
	if n := counter.Load(); n != 1 {
		t.Errorf("late frame released %d times, want 1", n)
	}
}

func TestClosePendingFrame(t *testing.T) {
	r := newFakeReader()
	s := Open(r)
	f := r.push()

	s.Close()
	s.Close()

	if n := r.releaseCount(f.Sequence); n != 1 {
		t.Errorf("pending frame released %d times, want 1", n)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next() error = %v, want ErrClosed", err)
	}
}

func TestRunStopsAfterCancellation(t *testing.T) {
	r := newFakeReader()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []uint64
	var second *camera.Frame
	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, r, func(_ context.Context, f *camera.Frame) error {
			handled = append(handled, f.Sequence)
			// A new frame arrives and cancellation is requested mid-processing.
			second = r.push()
			cancel()
			if f.Released() {
				t.Error("frame released while still being processed")
			}
			return nil
		})
	}()

	for r.callback() == nil {
		time.Sleep(time.Millisecond)
	}
	first := r.push()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if len(handled) != 1 || handled[0] != first.Sequence {
		t.Fatalf("handled = %v, want only frame %d", handled, first.Sequence)
	}
	if n := r.releaseCount(first.Sequence); n != 1 {
		t.Errorf("first frame released %d times, want 1", n)
	}
	if n := r.releaseCount(second.Sequence); n != 1 {
		t.Errorf("pending frame released %d times, want 1", n)
	}
}

func TestRunHandlerError(t *testing.T) {
	r := newFakeReader()
	boom := errors.New("render failed")
	done := make(chan error, 1)

	go func() {
		done <- Run(context.Background(), r, func(context.Context, *camera.Frame) error {
			return boom
		})
	}()
	for r.callback() == nil {
		time.Sleep(time.Millisecond)
	}
	f := r.push()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Run() error = %v, want %v", err, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return handler error")
	}
	if n := r.releaseCount(f.Sequence); n != 1 {
		t.Errorf("frame released %d times, want 1", n)
	}
}

// Every frame the stream acquired is released exactly once whatever the
// interleaving of producer, consumer and cancellation.
func TestReleaseExactlyOnceUnderLoad(t *testing.T) {
	for i := 0; i < 20; i++ {
		r := newFakeReader()
		ctx, cancel := context.WithCancel(context.Background())
		s := Open(r)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.push()
			}
		}()

		var handled atomic.Int32
		runDone := make(chan error, 1)
		go func() {
			runDone <- s.Run(ctx, func(_ context.Context, f *camera.Frame) error {
				if f.Released() {
					t.Error("handler got a released frame")
				}
				if handled.Add(1) == 25 {
					cancel()
				}
				return nil
			})
		}()

		wg.Wait()
		cancel()
		if err := <-runDone; err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		s.Close()

		r.mu.Lock()
		for seq, counter := range r.releases {
			n := counter.Load()
			if r.acquired[seq] && n != 1 {
				t.Errorf("frame %d acquired and released %d times, want 1", seq, n)
			}
			if !r.acquired[seq] && n != 0 {
				t.Errorf("frame %d never acquired but released %d times", seq, n)
			}
		}
		r.mu.Unlock()
	}
}
