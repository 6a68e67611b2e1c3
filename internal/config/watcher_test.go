package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writePreview(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("[preview]\n"+body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// startWatcher writes an initial file and starts a preview watcher on it.
func startWatcher(t *testing.T, debounce time.Duration, opts ...WatcherOption[Preview]) (string, *Watcher[Preview]) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "theia.toml")
	writePreview(t, path, "fps_step = 1\n")

	opts = append([]WatcherOption[Preview]{WithDebounce[Preview](debounce)}, opts...)
	w := NewConfigWatcher(path, LoadPreview, newTestLogger(), opts...)
	return path, w
}

func start(t *testing.T, w *Watcher[Preview]) {
	t.Helper()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// Let fsnotify settle before the first write.
	time.Sleep(100 * time.Millisecond)
}

func TestLoadPreview(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Preview
		wantErr bool
	}{
		{
			name: "defaults",
			body: "",
			want: DefaultPreview(),
		},
		{
			name: "partial",
			body: "max_width = 640\noverlay = false\nfilter = \"edges\"\n",
			want: Preview{MaxWidth: 640, MaxHeight: 500, FPSStep: 20, Overlay: false, Filter: "edges"},
		},
		{
			name:    "zero ceiling",
			body:    "max_height = 0\n",
			wantErr: true,
		},
		{
			name:    "negative step",
			body:    "fps_step = -1\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "theia.toml")
			writePreview(t, path, tt.body)

			got, err := LoadPreview(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadPreview() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("LoadPreview() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoadPreviewMissingFile(t *testing.T) {
	if _, err := LoadPreview(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadPreview() on missing file returned nil error")
	}
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	path, w := startWatcher(t, 50*time.Millisecond)

	received := make(chan Preview, 1)
	w.OnReload(func(p Preview) {
		received <- p
	})
	start(t, w)

	writePreview(t, path, "max_width = 320\nmax_height = 240\nfilter = \"dehaze\"\n")

	select {
	case p := <-received:
		if p.MaxWidth != 320 || p.MaxHeight != 240 || p.Filter != "dehaze" {
			t.Errorf("got %+v, want 320x240 dehaze", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_FreshConfig(t *testing.T) {
	path, _ := startWatcher(t, 50*time.Millisecond)

	var loadCount atomic.Int32
	loader := func(p string) (Preview, error) {
		loadCount.Add(1)
		return LoadPreview(p)
	}
	w := NewConfigWatcher(path, loader, newTestLogger(), WithDebounce[Preview](50*time.Millisecond))

	received := make(chan Preview, 10)
	w.OnReload(func(p Preview) {
		received <- p
	})
	start(t, w)

	writePreview(t, path, "fps_step = 10\n")
	<-received

	time.Sleep(100 * time.Millisecond)
	writePreview(t, path, "fps_step = 20\n")
	p := <-received

	if p.FPSStep != 20 {
		t.Errorf("got fps_step %d, want 20", p.FPSStep)
	}
	if got := loadCount.Load(); got < 2 {
		t.Errorf("got %d loads, want at least 2", got)
	}
}

func TestConfigWatcher_MultipleHandlers(t *testing.T) {
	path, w := startWatcher(t, 50*time.Millisecond)

	var count atomic.Int32
	var mu sync.Mutex
	var got []Preview
	for range 3 {
		w.OnReload(func(p Preview) {
			count.Add(1)
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
		})
	}
	start(t, w)

	writePreview(t, path, "fps_step = 2\n")
	time.Sleep(300 * time.Millisecond)

	if n := count.Load(); n != 3 {
		t.Errorf("got %d handler calls, want 3", n)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if p.FPSStep != 2 {
			t.Errorf("handler %d got fps_step %d, want 2", i, p.FPSStep)
		}
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	path, w := startWatcher(t, 50*time.Millisecond)

	var count1, count2 atomic.Int32
	var last1, last2 atomic.Int32
	w.OnReload(func(p Preview) {
		last1.Store(int32(p.FPSStep))
		count1.Add(1)
	})
	unsub2 := w.OnReload(func(p Preview) {
		last2.Store(int32(p.FPSStep))
		count2.Add(1)
	})
	start(t, w)

	writePreview(t, path, "fps_step = 10\n")
	time.Sleep(300 * time.Millisecond)

	unsub2()

	writePreview(t, path, "fps_step = 20\n")
	time.Sleep(300 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1: got %d calls, want 2", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2: got %d calls, want 1", got)
	}
	if got := last1.Load(); got != 20 {
		t.Errorf("handler1: got last fps_step %d, want 20", got)
	}
	if got := last2.Load(); got != 10 {
		t.Errorf("handler2: got last fps_step %d, want 10", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	errorReceived := make(chan error, 1)
	path, w := startWatcher(t, 50*time.Millisecond, WithErrorHandler[Preview](func(err error) {
		select {
		case errorReceived <- err:
		default:
		}
	}))

	configReceived := make(chan Preview, 1)
	w.OnReload(func(p Preview) {
		configReceived <- p
	})
	start(t, w)

	// Valid TOML, invalid ceiling.
	writePreview(t, path, "max_width = 0\n")

	select {
	case <-errorReceived:
	case p := <-configReceived:
		t.Fatalf("handler called with invalid config %+v", p)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	path, w := startWatcher(t, 200*time.Millisecond)

	var count atomic.Int32
	var last atomic.Int32
	w.OnReload(func(p Preview) {
		count.Add(1)
		last.Store(int32(p.FPSStep))
	})
	start(t, w)

	for i := 1; i <= 5; i++ {
		writePreview(t, path, fmt.Sprintf("fps_step = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("got %d debounced calls, want 1", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("got final fps_step %d, want 5", got)
	}
}

func TestConfigWatcher_Run(t *testing.T) {
	path, w := startWatcher(t, 50*time.Millisecond)

	var count atomic.Int32
	w.OnReload(func(Preview) {
		count.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Changes after Run returned are ignored.
	writePreview(t, path, "fps_step = 99\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("got %d calls after stop, want 0", got)
	}
}
