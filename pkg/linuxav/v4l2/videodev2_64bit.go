//go:build linux && (amd64 || arm64)

package v4l2

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2FrmsizeDiscrete{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Fract{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [132]byte = [unsafe.Sizeof(v4l2DVTimings{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2Timecode{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [40]byte  = [unsafe.Sizeof(v4l2CaptureParm{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2StreamParm{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Control{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocGFmt               = 0xc0d05604
	vidiocSFmt               = 0xc0d05605
	vidiocReqbufs            = 0xc0145608
	vidiocQuerybuf           = 0xc0585609
	vidiocQbuf               = 0xc058560f
	vidiocDqbuf              = 0xc0585611
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocSParm              = 0xc0cc5616
	vidiocSCtrl              = 0xc008561c
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
	vidiocGDVTimings         = 0xc0845658
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2FrmsizeDiscrete has size 8 bytes.
type v4l2FrmsizeDiscrete struct {
	width  uint32
	height uint32
}

// v4l2FrmsizeStepwise has size 24 bytes.
type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

// v4l2Frmsizeenum has size 44 bytes.
type v4l2Frmsizeenum struct {
	index       uint32              // offset 0
	pixelFormat uint32              // offset 4
	typ         uint32              // offset 8
	discrete    v4l2FrmsizeDiscrete // offset 12 (union with stepwise)
	_           [16]byte            // padding for stepwise
	reserved    [2]uint32           // offset 36
}

// v4l2Fract has size 8 bytes.
type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Frmivalenum has size 52 bytes.
type v4l2Frmivalenum struct {
	index       uint32    // offset 0
	pixelFormat uint32    // offset 4
	width       uint32    // offset 8
	height      uint32    // offset 12
	typ         uint32    // offset 16
	discrete    v4l2Fract // offset 20 (union with stepwise)
	_           [16]byte  // padding for stepwise
	reserved    [2]uint32 // offset 44
}

// v4l2BTTimings mirrors the packed 124 byte kernel struct. It is decoded
// from v4l2DVTimings rather than passed to the kernel directly.
type v4l2BTTimings struct {
	width         uint32    // offset 0
	height        uint32    // offset 4
	interlaced    uint32    // offset 8
	polarities    uint32    // offset 12
	pixelclock    uint64    // offset 16
	hfrontporch   uint32    // offset 24
	hsync         uint32    // offset 28
	hbackporch    uint32    // offset 32
	vfrontporch   uint32    // offset 36
	vsync         uint32    // offset 40
	vbackporch    uint32    // offset 44
	ilVfrontporch uint32    // offset 48
	ilVsync       uint32    // offset 52
	ilVbackporch  uint32    // offset 56
	standards     uint32    // offset 60
	flags         uint32    // offset 64
	pictureAspect v4l2Fract // offset 68
	cea861Vic     uint8     // offset 76
	hdmiVic       uint8     // offset 77
	reserved      [46]byte  // offset 78 to 124
}

// v4l2DVTimings has size 132 bytes. The kernel packs the bt timings at
// offset 4, which a Go struct with a uint64 member cannot express.
type v4l2DVTimings struct {
	typ uint32    // offset 0
	raw [128]byte // offset 4 (union with reserved[32])
}

func (t *v4l2DVTimings) bt() v4l2BTTimings {
	le := binary.LittleEndian
	r := t.raw[:]
	return v4l2BTTimings{
		width:       le.Uint32(r[0:]),
		height:      le.Uint32(r[4:]),
		interlaced:  le.Uint32(r[8:]),
		polarities:  le.Uint32(r[12:]),
		pixelclock:  le.Uint64(r[16:]),
		hfrontporch: le.Uint32(r[24:]),
		hsync:       le.Uint32(r[28:]),
		hbackporch:  le.Uint32(r[32:]),
		vfrontporch: le.Uint32(r[36:]),
		vsync:       le.Uint32(r[40:]),
		vbackporch:  le.Uint32(r[44:]),
	}
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32 // offset 0
	height       uint32 // offset 4
	pixelformat  uint32 // offset 8
	field        uint32 // offset 12
	bytesperline uint32 // offset 16
	sizeimage    uint32 // offset 20
	colorspace   uint32 // offset 24
	priv         uint32 // offset 28
	flags        uint32 // offset 32
	ycbcrEnc     uint32 // offset 36
	quantization uint32 // offset 40
	xferFunc     uint32 // offset 44
}

// v4l2Format has size 208 bytes. The format union is 8-byte aligned.
type v4l2Format struct {
	typ uint32        // offset 0
	_   [4]byte       // padding
	pix v4l2PixFormat // offset 8 (union)
	_   [152]byte     // rest of the 200 byte union
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32   // offset 0
	typ          uint32   // offset 4
	memory       uint32   // offset 8
	capabilities uint32   // offset 12
	flags        uint8    // offset 16
	reserved     [3]uint8 // offset 17
}

// v4l2Timecode has size 16 bytes.
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	_         [4]byte      // padding
	timestamp unix.Timeval // offset 24
	timecode  v4l2Timecode // offset 40
	sequence  uint32       // offset 56
	memory    uint32       // offset 60
	m         uint64       // offset 64 (union: offset, userptr, planes, fd)
	length    uint32       // offset 72
	reserved2 uint32       // offset 76
	requestFD int32        // offset 80
	_         [4]byte      // padding to 88
}

// offset returns the mmap offset member of the m union.
func (b *v4l2Buffer) offset() int64 {
	return int64(uint32(b.m))
}

// v4l2CaptureParm has size 40 bytes.
type v4l2CaptureParm struct {
	capability   uint32    // offset 0
	capturemode  uint32    // offset 4
	timeperframe v4l2Fract // offset 8
	extendedmode uint32    // offset 16
	readbuffers  uint32    // offset 20
	reserved     [4]uint32 // offset 24
}

// v4l2StreamParm has size 204 bytes.
type v4l2StreamParm struct {
	typ     uint32          // offset 0
	capture v4l2CaptureParm // offset 4 (union)
	_       [160]byte       // rest of the 200 byte union
}

// v4l2Control has size 8 bytes.
type v4l2Control struct {
	id    uint32
	value int32
}
