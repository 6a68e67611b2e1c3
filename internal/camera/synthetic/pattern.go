package synthetic

import "github.com/smazurov/theia/internal/camera"

func strides(size camera.Size, layout Layout, padding int) (yStride, cStride int) {
	yStride = size.Width + padding
	if layout == LayoutI420 {
		return yStride, (size.Width+1)/2 + padding
	}
	// Interleaved chroma rows hold width/2 pairs.
	return yStride, 2*((size.Width+1)/2) + padding
}

func frameBytes(size camera.Size, layout Layout, padding int) int {
	yStride, cStride := strides(size, layout, padding)
	ch := (size.Height + 1) / 2
	if layout == LayoutI420 {
		return yStride*size.Height + 2*cStride*ch
	}
	return yStride*size.Height + cStride*ch
}

// slicePlanes returns the three plane views of a frame buffer. Semi-planar
// chroma planes overlap: the second plane starts one byte after the first.
func slicePlanes(data []byte, size camera.Size, layout Layout, padding int) [3]camera.Plane {
	yStride, cStride := strides(size, layout, padding)
	ch := (size.Height + 1) / 2
	base := yStride * size.Height

	planes := [3]camera.Plane{{Data: data[:base], RowStride: yStride, PixelStride: 1}}
	switch layout {
	case LayoutI420:
		planes[1] = camera.Plane{Data: data[base : base+cStride*ch], RowStride: cStride, PixelStride: 1}
		planes[2] = camera.Plane{Data: data[base+cStride*ch:], RowStride: cStride, PixelStride: 1}
	case LayoutNV21:
		planes[1] = camera.Plane{Data: data[base+1:], RowStride: cStride, PixelStride: 2}
		planes[2] = camera.Plane{Data: data[base:], RowStride: cStride, PixelStride: 2}
	default:
		planes[1] = camera.Plane{Data: data[base:], RowStride: cStride, PixelStride: 2}
		planes[2] = camera.Plane{Data: data[base+1:], RowStride: cStride, PixelStride: 2}
	}
	return planes
}

// PatternChroma is the constant chroma of generated frames, as (U, V).
var PatternChroma = [2]byte{110, 150}

// fill draws a diagonal luma ramp that scrolls with seq over constant
// chroma. Row padding is filled with 0xff so a converter that keeps it
// shows visible garbage.
func fill(data []byte, size camera.Size, layout Layout, padding int, seq uint64) {
	for i := range data {
		data[i] = 0xff
	}
	yStride, cStride := strides(size, layout, padding)
	shift := int(seq)
	for y := 0; y < size.Height; y++ {
		row := data[y*yStride : y*yStride+size.Width]
		for x := range row {
			row[x] = byte(x + y + shift)
		}
	}

	u, v := PatternChroma[0], PatternChroma[1]
	cw, ch := (size.Width+1)/2, (size.Height+1)/2
	base := yStride * size.Height
	switch layout {
	case LayoutI420:
		for r := 0; r < ch; r++ {
			for c := 0; c < cw; c++ {
				data[base+r*cStride+c] = u
				data[base+cStride*ch+r*cStride+c] = v
			}
		}
	case LayoutNV21:
		for r := 0; r < ch; r++ {
			for c := 0; c < cw; c++ {
				data[base+r*cStride+2*c] = v
				data[base+r*cStride+2*c+1] = u
			}
		}
	default:
		for r := 0; r < ch; r++ {
			for c := 0; c < cw; c++ {
				data[base+r*cStride+2*c] = u
				data[base+r*cStride+2*c+1] = v
			}
		}
	}
}

// LumaAt returns the pattern luma at (x, y) for frame seq.
func LumaAt(x, y int, seq uint64) byte {
	return byte(x + y + int(seq))
}
