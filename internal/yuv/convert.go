// Package yuv converts YUV 4:2:0 camera frames to RGBA.
//
// Frames arrive in one of two physical chroma layouts. Semi-planar frames
// (pixel stride 2) interleave the chroma samples, as UV pairs (NV12) or VU
// pairs (NV21); their plane 1 and plane 2 are views into the same memory one
// byte apart, and the sign of that offset tells the orderings apart. Planar
// frames (pixel stride 1) carry separate U and V planes whose rows may be
// padded past the visible width. Classify decodes the layout once; Convert
// branches on it and produces the same RGBA output for every layout.
package yuv

import (
	"errors"
	"fmt"
	"image"
	"unsafe"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/image/draw"

	"github.com/smazurov/theia/internal/camera"
)

// Layout is the decoded chroma layout of a frame.
type Layout int

// Layouts.
const (
	LayoutUnknown Layout = iota
	LayoutNV12
	LayoutNV21
	LayoutI420
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutNV12:
		return "NV12"
	case LayoutNV21:
		return "NV21"
	case LayoutI420:
		return "I420"
	default:
		return "unknown"
	}
}

// SemiPlanar reports whether chroma samples are interleaved.
func (l Layout) SemiPlanar() bool {
	return l == LayoutNV12 || l == LayoutNV21
}

var (
	// ErrUnsupportedLayout is returned for frames that are neither
	// semi-planar nor planar 4:2:0.
	ErrUnsupportedLayout = errors.New("unsupported YUV layout")
	// ErrShortPlane is returned when a plane holds fewer bytes than its
	// strides and the frame size require.
	ErrShortPlane = errors.New("plane shorter than frame geometry")
	// ErrSizeMismatch is returned when the destination does not match the
	// frame size.
	ErrSizeMismatch = errors.New("destination size does not match frame")
)

// Classify returns the chroma layout of f.
func Classify(f *camera.Frame) (Layout, error) {
	if f.Released() {
		return LayoutUnknown, camera.ErrFrameReleased
	}
	u, v := f.Planes[1], f.Planes[2]
	if len(u.Data) == 0 || len(v.Data) == 0 {
		return LayoutUnknown, fmt.Errorf("%w: empty chroma plane", ErrUnsupportedLayout)
	}

	switch {
	case u.PixelStride == 2 && v.PixelStride == 2:
		diff := int64(uintptr(unsafe.Pointer(unsafe.SliceData(v.Data)))) -
			int64(uintptr(unsafe.Pointer(unsafe.SliceData(u.Data))))
		switch diff {
		case 1:
			return LayoutNV12, nil
		case -1:
			return LayoutNV21, nil
		default:
			return LayoutUnknown, fmt.Errorf("%w: interleaved chroma planes %d bytes apart", ErrUnsupportedLayout, diff)
		}
	case u.PixelStride == 1 && v.PixelStride == 1:
		return LayoutI420, nil
	default:
		return LayoutUnknown, fmt.Errorf("%w: chroma pixel strides %d/%d", ErrUnsupportedLayout, u.PixelStride, v.PixelStride)
	}
}

// Converter turns frames into RGBA images. Scratch memory is pooled, so a
// Converter may be shared between goroutines.
type Converter struct {
	pool bytebufferpool.Pool
}

// NewConverter creates a converter.
func NewConverter() *Converter {
	return &Converter{}
}

// Convert classifies f and writes it into dst, which must be exactly the
// frame size. The frame is only read; the caller still owns and releases it.
func (c *Converter) Convert(f *camera.Frame, dst *image.RGBA) error {
	layout, err := Classify(f)
	if err != nil {
		return err
	}
	return c.ConvertLayout(f, layout, dst)
}

// ConvertLayout writes f into dst using an already decoded layout.
func (c *Converter) ConvertLayout(f *camera.Frame, layout Layout, dst *image.RGBA) error {
	if f.Released() {
		return camera.ErrFrameReleased
	}
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: frame %dx%d", ErrSizeMismatch, w, h)
	}
	if dst.Rect.Dx() != w || dst.Rect.Dy() != h {
		return fmt.Errorf("%w: frame %dx%d, destination %dx%d", ErrSizeMismatch, w, h, dst.Rect.Dx(), dst.Rect.Dy())
	}

	cw, ch := (w+1)/2, (h+1)/2
	buf := c.pool.Get()
	defer c.pool.Put(buf)
	n := w*h + 2*cw*ch
	if cap(buf.B) < n {
		buf.B = make([]byte, n)
	}
	buf.B = buf.B[:n]

	img := &image.YCbCr{
		Y:              buf.B[:w*h],
		Cb:             buf.B[w*h : w*h+cw*ch],
		Cr:             buf.B[w*h+cw*ch:],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}

	y := f.Planes[0]
	err := copyPlane(img.Y, w, y.Data, y.RowStride, w, h)
	if err != nil {
		return fmt.Errorf("luma: %w", err)
	}

	switch layout {
	case LayoutNV12:
		err = deinterleave(img.Cb, img.Cr, cw, f.Planes[1].Data, f.Planes[1].RowStride, cw, ch)
	case LayoutNV21:
		err = deinterleave(img.Cr, img.Cb, cw, f.Planes[2].Data, f.Planes[2].RowStride, cw, ch)
	case LayoutI420:
		u, v := f.Planes[1], f.Planes[2]
		if err = copyPlane(img.Cb, cw, u.Data, u.RowStride, cw, ch); err == nil {
			err = copyPlane(img.Cr, cw, v.Data, v.RowStride, cw, ch)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedLayout, layout)
	}
	if err != nil {
		return fmt.Errorf("chroma: %w", err)
	}

	draw.Draw(dst, dst.Rect, img, image.Point{}, draw.Src)
	return nil
}

// copyPlane copies width bytes from each of rows rows, dropping any row
// padding. The last source row may stop right after its visible bytes.
func copyPlane(dst []byte, dstStride int, src []byte, srcStride, width, rows int) error {
	if srcStride < width {
		return fmt.Errorf("%w: row stride %d below width %d", ErrShortPlane, srcStride, width)
	}
	if need := (rows-1)*srcStride + width; len(src) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortPlane, len(src), need)
	}
	if srcStride == width && dstStride == width {
		copy(dst, src[:rows*width])
		return nil
	}
	for r := 0; r < rows; r++ {
		copy(dst[r*dstStride:r*dstStride+width], src[r*srcStride:r*srcStride+width])
	}
	return nil
}

// deinterleave splits pairs of samples into first and second. A chroma
// plane view may end one byte short of its last pair; that byte lies within
// the view's capacity.
func deinterleave(first, second []byte, dstStride int, src []byte, srcStride, width, rows int) error {
	src = src[:cap(src)]
	if srcStride < 2*width-1 {
		return fmt.Errorf("%w: row stride %d below width %d", ErrShortPlane, srcStride, 2*width)
	}
	if need := (rows-1)*srcStride + 2*width; len(src) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortPlane, len(src), need)
	}
	for r := 0; r < rows; r++ {
		row := src[r*srcStride : r*srcStride+2*width]
		out := r * dstStride
		for c := 0; c < width; c++ {
			first[out+c] = row[2*c]
			second[out+c] = row[2*c+1]
		}
	}
	return nil
}

// ToRGBA converts f into a newly allocated image.
func (c *Converter) ToRGBA(f *camera.Frame) (*image.RGBA, error) {
	dst := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	if err := c.Convert(f, dst); err != nil {
		return nil, err
	}
	return dst, nil
}
