package coordinator

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/events"
	"github.com/smazurov/theia/internal/filter"
	"github.com/smazurov/theia/internal/framestream"
	"github.com/smazurov/theia/internal/ratemeter"
	"github.com/smazurov/theia/internal/render"
	"github.com/smazurov/theia/internal/yuv"
)

// startStream starts the frame task for a cycle. The task takes its reader
// from the reader slot.
func (c *Coordinator) startStream(cycle string) {
	ctx, cancel := context.WithCancel(c.root)
	t := &streamTask{cancel: cancel, done: make(chan struct{})}

	c.smu.Lock()
	c.stream = t
	c.smu.Unlock()

	go c.runStream(ctx, cycle, t)
}

// cancelStream asks the frame task to stop without waiting for it.
func (c *Coordinator) cancelStream() {
	c.smu.Lock()
	defer c.smu.Unlock()
	if c.stream != nil {
		c.stream.cancel()
	}
}

// stopStream cancels the frame task, waits for it to exit and drops a
// reader it never took.
func (c *Coordinator) stopStream() {
	c.smu.Lock()
	t := c.stream
	c.stream = nil
	c.smu.Unlock()

	if t != nil {
		t.cancel()
		<-t.done
	}
	_, _, _ = c.readers.TryTake()
}

func (c *Coordinator) runStream(ctx context.Context, cycle string, t *streamTask) {
	defer close(t.done)
	defer t.cancel()

	reader, err := c.readers.Take(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Frame task could not take reader", "cycle", cycle, "error", err)
		}
		return
	}

	step := c.previewSettings().FPSStep
	if step <= 0 {
		step = ratemeter.DefaultStep
	}
	fr := &frameRenderer{
		c:     c,
		cycle: cycle,
		meter: ratemeter.New(step, c.clock),
		step:  step,
	}

	s := framestream.Open(reader)
	fr.stream = s
	t.stream.Store(s)
	defer s.Close()

	c.logger.Debug("Frame task started", "cycle", cycle, "size", reader.Size())
	if err := s.Run(ctx, fr.render); err != nil {
		c.logger.Error("Frame task stopped", "cycle", cycle, "error", err)
	}
	fr.publishStats(s.Stats())
	c.logger.Debug("Frame task finished", "cycle", cycle, "rendered", fr.rendered)
}

// frameRenderer is the per-cycle state of the frame task: converter output
// goes through the optional filter into the compositor.
type frameRenderer struct {
	c     *Coordinator
	cycle string
	meter *ratemeter.Meter
	step  int

	filterName string
	filter     filter.Filter

	stream   *framestream.Stream
	rendered uint64
}

func (r *frameRenderer) render(_ context.Context, f *camera.Frame) error {
	c := r.c
	p := c.previewSettings()
	r.selectFilter(p.Filter)

	err := c.canvas.With(func(img *image.RGBA) error {
		if err := c.converter.Convert(f, img); err != nil {
			return err
		}
		if r.filter != nil {
			r.filter.Apply(img)
		}
		fps := r.meter.Measure()
		c.fps.Store(math.Float64bits(fps))

		overlay := ""
		if p.Overlay {
			overlay = render.Overlay(fps, f.Width, f.Height)
		}
		return c.compositor.Draw(c.target, img, overlay)
	})

	switch {
	case err == nil:
	case errors.Is(err, yuv.ErrSizeMismatch):
		// The canvas already moved to the next negotiated size.
		c.logger.Debug("Skipping frame of previous size", "seq", f.Sequence)
		return nil
	case errors.Is(err, render.ErrNoSurface):
		return nil
	default:
		return err
	}

	r.rendered++
	c.rendered.Add(1)
	if r.rendered%uint64(r.step) == 0 {
		r.publishStats(r.stream.Stats())
	}
	return nil
}

func (r *frameRenderer) selectFilter(name string) {
	if name == r.filterName {
		return
	}
	f, err := filter.New(name)
	if err != nil {
		// Rejected by SetPreview already; keep the current filter.
		return
	}
	r.filterName = name
	r.filter = f
}

func (r *frameRenderer) publishStats(s framestream.Stats) {
	r.c.publish(events.FrameStatsEvent{
		CycleID:   r.cycle,
		FPS:       r.meter.FPS(),
		Rendered:  r.rendered,
		Delivered: s.Delivered,
		Dropped:   s.Dropped,
		Missed:    s.Missed,
		Timestamp: now(),
	})
}
