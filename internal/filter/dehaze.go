package filter

import "image"

// Dark channel prior parameters.
const (
	DefaultPatch = 15
	// omega keeps a trace of haze so distant objects still read as far.
	omega = 0.95
	// minTransmission bounds the recovery gain in dense haze.
	minTransmission = 0.1
	// brightFraction of the darkest-channel pixels estimates the airlight.
	brightFraction = 0.001
)

// Dehazer removes haze with the dark channel prior: the per-pixel channel
// minimum, eroded over a square patch, approximates haze thickness.
type Dehazer struct {
	patch int

	rgb  []float32
	min  []float32
	dark []float32
	tmp  []float32
}

// NewDehazer creates a dehazer using a patch x patch erosion window.
func NewDehazer(patch int) *Dehazer {
	if patch < 1 {
		patch = 1
	}
	return &Dehazer{patch: patch}
}

// Name returns "dehaze".
func (d *Dehazer) Name() string { return Dehaze }

// Apply dehazes img in place.
func (d *Dehazer) Apply(img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	n := w * h

	d.rgb = grow(d.rgb, 3*n)
	d.min = grow(d.min, n)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			r := float32(row[4*x]) / 255
			g := float32(row[4*x+1]) / 255
			bl := float32(row[4*x+2]) / 255
			d.rgb[3*i], d.rgb[3*i+1], d.rgb[3*i+2] = r, g, bl
			d.min[i] = min(r, g, bl)
		}
	}

	d.dark = d.erode(d.dark, d.min, w, h)
	air := d.airlight(n)

	// Transmission from the dark channel of the airlight-normalized image.
	for i := 0; i < n; i++ {
		d.min[i] = min(d.rgb[3*i]/air[0], d.rgb[3*i+1]/air[1], d.rgb[3*i+2]/air[2])
	}
	t := d.erode(d.dark, d.min, w, h)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			tx := max(1-omega*t[i], minTransmission)
			for c := 0; c < 3; c++ {
				j := (d.rgb[3*i+c]-air[c])/tx + air[c]
				row[4*x+c] = clamp8(j * 255)
			}
		}
	}
}

// airlight averages the color of the brightest dark-channel pixels. The
// cut-off is found from a 256-bin histogram of the dark channel.
func (d *Dehazer) airlight(n int) [3]float32 {
	var hist [256]int
	for _, v := range d.dark[:n] {
		hist[clamp8(v*255)]++
	}

	k := max(int(float64(n)*brightFraction), 1)
	cut := 255
	for seen := 0; cut > 0; cut-- {
		seen += hist[cut]
		if seen >= k {
			break
		}
	}

	var sum [3]float32
	var count int
	for i, v := range d.dark[:n] {
		if int(clamp8(v*255)) >= cut {
			sum[0] += d.rgb[3*i]
			sum[1] += d.rgb[3*i+1]
			sum[2] += d.rgb[3*i+2]
			count++
		}
	}
	air := [3]float32{sum[0] / float32(count), sum[1] / float32(count), sum[2] / float32(count)}
	for c := range air {
		if air[c] < 1.0/255 {
			air[c] = 1.0 / 255
		}
	}
	return air
}

// erode applies a separable patch x patch minimum filter to src and
// returns the result in dst.
func (d *Dehazer) erode(dst, src []float32, w, h int) []float32 {
	r := d.patch / 2
	d.tmp = grow(d.tmp, w*h)
	dst = grow(dst, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := src[y*w+x]
			for k := max(x-r, 0); k <= min(x+r, w-1); k++ {
				m = min(m, src[y*w+k])
			}
			d.tmp[y*w+x] = m
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := d.tmp[y*w+x]
			for k := max(y-r, 0); k <= min(y+r, h-1); k++ {
				m = min(m, d.tmp[k*w+x])
			}
			dst[y*w+x] = m
		}
	}
	return dst
}

func clamp8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
