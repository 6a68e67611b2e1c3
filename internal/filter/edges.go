package filter

import "image"

// EdgeDetector renders the Sobel gradient magnitude of a 3x3 Gaussian
// blurred luma image as gray.
type EdgeDetector struct {
	gray []int32
	blur []int32
}

// NewEdgeDetector creates an edge detector.
func NewEdgeDetector() *EdgeDetector {
	return &EdgeDetector{}
}

// Name returns "edges".
func (e *EdgeDetector) Name() string { return Edges }

// Apply replaces img with its edge map. Borders are replicated.
func (e *EdgeDetector) Apply(img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	n := w * h

	e.gray = grow(e.gray, n)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, bl := int32(row[4*x]), int32(row[4*x+1]), int32(row[4*x+2])
			// BT.601 luma weights in 8.8 fixed point.
			e.gray[y*w+x] = (77*r + 150*g + 29*bl + 128) >> 8
		}
	}

	at := func(p []int32, x, y int) int32 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return p[y*w+x]
	}

	e.blur = grow(e.blur, n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := at(e.gray, x-1, y-1) + 2*at(e.gray, x, y-1) + at(e.gray, x+1, y-1) +
				2*at(e.gray, x-1, y) + 4*at(e.gray, x, y) + 2*at(e.gray, x+1, y) +
				at(e.gray, x-1, y+1) + 2*at(e.gray, x, y+1) + at(e.gray, x+1, y+1)
			e.blur[y*w+x] = (s + 8) >> 4
		}
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := e.blur
			gx := at(p, x+1, y-1) + 2*at(p, x+1, y) + at(p, x+1, y+1) -
				at(p, x-1, y-1) - 2*at(p, x-1, y) - at(p, x-1, y+1)
			gy := at(p, x-1, y+1) + 2*at(p, x, y+1) + at(p, x+1, y+1) -
				at(p, x-1, y-1) - 2*at(p, x, y-1) - at(p, x+1, y-1)

			v := (min(abs(gx), 255) + min(abs(gy), 255)) / 2
			row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = uint8(v), uint8(v), uint8(v), 0xff
		}
	}
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
