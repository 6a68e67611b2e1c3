//go:build linux && (amd64 || arm64)

// Package v4l2 talks to Video4Linux2 capture devices through ioctls, with
// no cgo. It covers what a preview pipeline needs: finding capture nodes,
// listing formats, sizes and frame intervals, probing the signal of HDMI
// capture bridges, and memory-mapped streaming.
//
// Kernel structs are mirrored for 64-bit ABIs only; the layouts are
// asserted at compile time.
//
// A capture session:
//
//	s, err := v4l2.OpenStream("/dev/video0")
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	f, _ := s.SetFormat(1280, 720, v4l2.PixFmtNV12)
//	_ = s.RequestBuffers(4)
//	_ = s.Start()
//	for {
//		buf, err := s.Dequeue(time.Second)
//		if err != nil {
//			break
//		}
//		frame := s.Buffer(buf.Index)[:buf.BytesUsed] // rows of f.BytesPerLine
//		_ = frame
//		_ = s.Queue(buf.Index)
//	}
package v4l2
