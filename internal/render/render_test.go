package render

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/draw"

	"github.com/smazurov/theia/internal/camera"
)

func TestPlacement(t *testing.T) {
	tests := []struct {
		name    string
		active  image.Point
		surface image.Point
		want    image.Rectangle
	}{
		{"letterbox vertical", image.Pt(1280, 720), image.Pt(800, 600), image.Rect(0, 75, 800, 525)},
		{"pillarbox horizontal", image.Pt(640, 480), image.Pt(1600, 600), image.Rect(400, 0, 1200, 600)},
		{"exact fit", image.Pt(640, 480), image.Pt(640, 480), image.Rect(0, 0, 640, 480)},
		{"upscale", image.Pt(320, 240), image.Pt(640, 480), image.Rect(0, 0, 640, 480)},
		{"empty active", image.Pt(0, 0), image.Pt(640, 480), image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Placement(tt.active, tt.surface); got != tt.want {
				t.Errorf("Placement() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlay(t *testing.T) {
	if got, want := Overlay(29.971, 640, 480), "29.97 FPS 640x480"; got != want {
		t.Errorf("Overlay() = %q, want %q", got, want)
	}
}

func TestCanvasReconfigureReusesBacking(t *testing.T) {
	c := NewCanvas(camera.Size{Width: 64, Height: 64})

	if err := c.With(func(*image.RGBA) error { return nil }); !errors.Is(err, ErrCanvasNotConfigured) {
		t.Fatalf("With() before Reconfigure error = %v, want ErrCanvasNotConfigured", err)
	}

	if err := c.Reconfigure(camera.Size{Width: 32, Height: 16}); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	var first *uint8
	_ = c.With(func(img *image.RGBA) error {
		first = &img.Pix[0]
		if img.Rect.Dx() != 32 || img.Rect.Dy() != 16 || len(img.Pix) != 32*16*4 {
			t.Errorf("image = %v len %d, want 32x16", img.Rect, len(img.Pix))
		}
		return nil
	})

	if err := c.Reconfigure(camera.Size{Width: 64, Height: 48}); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	_ = c.With(func(img *image.RGBA) error {
		if &img.Pix[0] != first {
			t.Error("Reconfigure reallocated the backing store")
		}
		return nil
	})
	if got := c.Size(); got != (camera.Size{Width: 64, Height: 48}) {
		t.Errorf("Size() = %v, want 64x48", got)
	}

	if err := c.Reconfigure(camera.Size{Width: 65, Height: 10}); err == nil {
		t.Error("Reconfigure() beyond capacity should fail")
	}

	c.Release()
	if err := c.Reconfigure(camera.Size{Width: 8, Height: 8}); !errors.Is(err, ErrCanvasReleased) {
		t.Errorf("Reconfigure() after Release error = %v, want ErrCanvasReleased", err)
	}
}

func TestCompositorDraw(t *testing.T) {
	target := NewMemoryTarget()
	target.Attach(800, 600)

	// Stale content outside the letterbox must be cleared.
	surf, _ := target.Lock()
	draw.Draw(surf, surf.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	_ = target.Post(surf)

	blue := color.RGBA{B: 0xff, A: 0xff}
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	draw.Draw(src, src.Bounds(), image.NewUniform(blue), image.Point{}, draw.Src)

	c := NewCompositor()
	if err := c.Draw(target, src, Overlay(30, 1280, 720)); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}

	img := target.Snapshot()
	if got := img.RGBAAt(400, 300); got.R != 0 || got.G != 0 || got.B < 0xfe || got.A < 0xfe {
		t.Errorf("centre pixel = %v, want %v", got, blue)
	}
	if got := img.RGBAAt(400, 590); got != (color.RGBA{}) {
		t.Errorf("letterbox pixel = %v, want transparent", got)
	}

	red := false
	for y := 45; y < 64 && !red; y++ {
		for x := 20; x < 140; x++ {
			if p := img.RGBAAt(x, y); p.R == 0xff && p.G == 0 && p.B == 0 && p.A == 0xff {
				red = true
				break
			}
		}
	}
	if !red {
		t.Error("overlay text not drawn near (20, 60)")
	}
	if target.Posted() != 2 {
		t.Errorf("Posted() = %d, want 2", target.Posted())
	}
}

type recordingListener struct {
	events []string
}

func (r *recordingListener) SurfaceReady(w, h int) {
	r.events = append(r.events, Overlay(0, w, h))
}

func (r *recordingListener) SurfaceGone() {
	r.events = append(r.events, "gone")
}

func TestMemoryTargetEvents(t *testing.T) {
	target := NewMemoryTarget()
	l := &recordingListener{}
	target.SetListener(l)

	if _, err := target.Lock(); !errors.Is(err, ErrNoSurface) {
		t.Fatalf("Lock() error = %v, want ErrNoSurface", err)
	}

	target.Attach(320, 240)
	if got := target.Bounds(); got != image.Pt(320, 240) {
		t.Errorf("Bounds() = %v, want (320,240)", got)
	}
	target.Detach()
	target.Detach()

	want := []string{"0.00 FPS 320x240", "gone"}
	if len(l.events) != len(want) {
		t.Fatalf("events = %v, want %v", l.events, want)
	}
	for i := range want {
		if l.events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, l.events[i], want[i])
		}
	}
}
