package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// OverlayOrigin is where the overlay text baseline starts.
var OverlayOrigin = image.Pt(20, 60)

// Placement returns the rectangle an active-sized image occupies when scaled
// to fit surface with its aspect ratio kept, centred (letterboxed).
func Placement(active, surface image.Point) image.Rectangle {
	if active.X <= 0 || active.Y <= 0 || surface.X <= 0 || surface.Y <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(float64(surface.X)/float64(active.X), float64(surface.Y)/float64(active.Y))
	w := int(math.Round(scale * float64(active.X)))
	h := int(math.Round(scale * float64(active.Y)))
	x := (surface.X - w) / 2
	y := (surface.Y - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Overlay formats the rate text drawn over the preview.
func Overlay(fps float64, width, height int) string {
	return fmt.Sprintf("%.2f FPS %dx%d", fps, width, height)
}

// Compositor scales images onto a Target.
type Compositor struct {
	Scaler    draw.Scaler
	TextColor color.Color
	Face      font.Face
}

// NewCompositor returns a compositor with bilinear scaling and red
// 7x13 overlay text.
func NewCompositor() *Compositor {
	return &Compositor{
		Scaler:    draw.ApproxBiLinear,
		TextColor: color.RGBA{R: 0xff, A: 0xff},
		Face:      basicfont.Face7x13,
	}
}

// Draw locks the target surface, clears it, scales src into the letterboxed
// placement, draws overlay when not empty and posts the surface.
func (c *Compositor) Draw(t Target, src image.Image, overlay string) error {
	surf, err := t.Lock()
	if err != nil {
		return err
	}

	b := surf.Bounds()
	draw.Draw(surf, b, image.Transparent, image.Point{}, draw.Src)

	place := Placement(src.Bounds().Size(), b.Size()).Add(b.Min)
	if !place.Empty() {
		c.Scaler.Scale(surf, place, src, src.Bounds(), draw.Src, nil)
	}

	if overlay != "" {
		d := font.Drawer{
			Dst:  surf,
			Src:  image.NewUniform(c.TextColor),
			Face: c.Face,
			Dot:  fixed.P(b.Min.X+OverlayOrigin.X, b.Min.Y+OverlayOrigin.Y),
		}
		d.DrawString(overlay)
	}

	return t.Post(surf)
}
