package filter

import (
	"image"
	"image/color"
	"testing"
)

func fill(w, h int, at func(x, y int) color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, at(x, y))
		}
	}
	return img
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{name: "", wantName: ""},
		{name: "none", wantName: ""},
		{name: "Dehaze", wantName: Dehaze},
		{name: " edges ", wantName: Edges},
		{name: "sepia", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("New(%q) error = nil, want error", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.name, err)
			}
			got := ""
			if f != nil {
				got = f.Name()
			}
			if got != tt.wantName {
				t.Errorf("New(%q) = %q, want %q", tt.name, got, tt.wantName)
			}
		})
	}
}

func TestDehazeUniformUnchanged(t *testing.T) {
	gray := color.RGBA{R: 120, G: 120, B: 120, A: 255}
	img := fill(24, 16, func(int, int) color.RGBA { return gray })

	NewDehazer(DefaultPatch).Apply(img)

	for _, p := range []image.Point{{0, 0}, {12, 8}, {23, 15}} {
		got := img.RGBAAt(p.X, p.Y)
		if diff := int(got.R) - int(gray.R); diff < -1 || diff > 1 {
			t.Errorf("pixel %v = %v, want about %v", p, got, gray)
		}
	}
}

func TestDehazeRestoresContrast(t *testing.T) {
	// Left half is a scene seen through 50% haze, right half is pure haze.
	hazy := color.RGBA{R: 153, G: 179, B: 166, A: 255}
	air := color.RGBA{R: 230, G: 230, B: 230, A: 255}
	img := fill(64, 32, func(x, _ int) color.RGBA {
		if x < 32 {
			return hazy
		}
		return air
	})

	NewDehazer(DefaultPatch).Apply(img)

	left := img.RGBAAt(5, 16)
	if int(left.R) > int(hazy.R)-50 {
		t.Errorf("hazy region R = %d, want well below %d", left.R, hazy.R)
	}
	if left.G <= left.R {
		t.Errorf("hazy region lost its hue: %v", left)
	}

	right := img.RGBAAt(58, 16)
	if diff := int(right.R) - int(air.R); diff < -1 || diff > 1 {
		t.Errorf("airlight region = %v, want about %v", right, air)
	}
}

func TestDehazeReusesScratch(t *testing.T) {
	d := NewDehazer(3)
	d.Apply(fill(8, 8, func(int, int) color.RGBA { return color.RGBA{10, 20, 30, 255} }))
	first := &d.rgb[0]
	d.Apply(fill(4, 4, func(int, int) color.RGBA { return color.RGBA{10, 20, 30, 255} }))
	if &d.rgb[0] != first {
		t.Error("smaller frame reallocated scratch")
	}
}

func TestEdges(t *testing.T) {
	img := fill(16, 8, func(x, _ int) color.RGBA {
		if x < 8 {
			return color.RGBA{A: 255}
		}
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	})

	NewEdgeDetector().Apply(img)

	tests := []struct {
		x      int
		isEdge bool
	}{
		{2, false},
		{7, true},
		{8, true},
		{13, false},
	}
	for _, tt := range tests {
		got := img.RGBAAt(tt.x, 4)
		if tt.isEdge && got.R < 64 {
			t.Errorf("x=%d: R = %d, want an edge", tt.x, got.R)
		}
		if !tt.isEdge && got.R != 0 {
			t.Errorf("x=%d: R = %d, want 0", tt.x, got.R)
		}
		if got.R != got.G || got.G != got.B || got.A != 255 {
			t.Errorf("x=%d: %v is not opaque gray", tt.x, got)
		}
	}
}

func TestEdgesEmptyImage(t *testing.T) {
	NewEdgeDetector().Apply(image.NewRGBA(image.Rect(0, 0, 0, 0)))
}
