package handoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishThenTake(t *testing.T) {
	s := New[int]("size")
	ctx := context.Background()

	if err := s.Publish(ctx, 42); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !s.Full() {
		t.Fatal("slot should be full after publish")
	}

	got, err := s.Take(ctx)
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Take() = %d, want 42", got)
	}
}

func TestTakeBeforePublish(t *testing.T) {
	s := New[string]("device")
	result := make(chan string, 1)

	go func() {
		v, err := s.Take(context.Background())
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- v
	}()

	select {
	case v := <-result:
		t.Fatalf("Take returned %q before publish", v)
	case <-time.After(20 * time.Millisecond):
	}

	if err := s.Publish(context.Background(), "cam0"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case v := <-result:
		if v != "cam0" {
			t.Errorf("Take() = %q, want cam0", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not return after publish")
	}
}

func TestSecondPublishBlocksUntilTaken(t *testing.T) {
	s := New[int]("size")
	ctx := context.Background()

	if err := s.Publish(ctx, 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	published := make(chan error, 1)
	go func() {
		published <- s.Publish(ctx, 2)
	}()

	select {
	case err := <-published:
		t.Fatalf("second Publish returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	first, err := s.Take(ctx)
	if err != nil || first != 1 {
		t.Fatalf("Take() = %d, %v; want 1, nil", first, err)
	}

	select {
	case err := <-published:
		if err != nil {
			t.Fatalf("second Publish error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Publish still blocked after take")
	}

	second, err := s.Take(ctx)
	if err != nil || second != 2 {
		t.Errorf("Take() = %d, %v; want 2, nil", second, err)
	}
}

func TestPublishRespectsContext(t *testing.T) {
	s := New[int]("size")
	_ = s.Publish(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := s.Publish(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish() error = %v, want DeadlineExceeded", err)
	}
}

func TestFailDeliversError(t *testing.T) {
	s := New[int]("device")
	boom := errors.New("disconnected")

	if err := s.Fail(context.Background(), boom); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	_, err := s.Take(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Take() error = %v, want %v", err, boom)
	}
	if s.Full() {
		t.Error("slot should be empty after failure was taken")
	}
}

func TestFailRejectsNil(t *testing.T) {
	s := New[int]("device")
	if err := s.Fail(context.Background(), nil); err == nil {
		t.Error("Fail(nil) should return an error")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	s := New[int]("reader")
	errs := make(chan error, 1)

	go func() {
		_, err := s.Take(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Take() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Take not woken by Close")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s := New[int]("session")
	s.Close()

	if err := s.Publish(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() error = %v, want ErrClosed", err)
	}
	if err := s.Fail(context.Background(), errors.New("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Fail() error = %v, want ErrClosed", err)
	}
	if _, err := s.Take(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Take() error = %v, want ErrClosed", err)
	}
	if _, _, err := s.TryTake(); !errors.Is(err, ErrClosed) {
		t.Errorf("TryTake() error = %v, want ErrClosed", err)
	}
}

func TestCloseReturnsLeftover(t *testing.T) {
	s := New[int]("device")
	_ = s.Publish(context.Background(), 7)

	v, ok := s.Close()
	if !ok || v != 7 {
		t.Errorf("Close() = %d, %v; want 7, true", v, ok)
	}

	v, ok = s.Close()
	if ok {
		t.Errorf("second Close() = %d, %v; want no leftover", v, ok)
	}
}

func TestTryTake(t *testing.T) {
	s := New[int]("device")

	if _, ok, err := s.TryTake(); ok || err != nil {
		t.Fatalf("TryTake() on empty slot = ok %v, err %v", ok, err)
	}

	_ = s.Publish(context.Background(), 3)
	v, ok, err := s.TryTake()
	if !ok || err != nil || v != 3 {
		t.Errorf("TryTake() = %d, %v, %v; want 3, true, nil", v, ok, err)
	}
}
