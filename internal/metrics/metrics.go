// Package metrics exports preview pipeline metrics to Prometheus. The
// collector is fed from the event bus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/theia/internal/events"
	"github.com/smazurov/theia/internal/lifecycle"
)

const namespace = "theia"

// Collector holds the pipeline metrics.
type Collector struct {
	phase       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	surface     prometheus.Gauge
	width       prometheus.Gauge
	height      prometheus.Gauge
	fpsLower    prometheus.Gauge
	fpsUpper    prometheus.Gauge
	cycles      prometheus.Counter
	errors      *prometheus.CounterVec
	fps         prometheus.Gauge
	frames      *prometheus.CounterVec

	mu    sync.Mutex
	cycle string
	last  events.FrameStatsEvent
}

// New registers the metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "phase",
			Help:      "1 for the current lifecycle phase, 0 otherwise",
		}, []string{"phase"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by target phase",
		}, []string{"phase"}),
		surface: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "surface",
			Name:      "ready",
			Help:      "1 while a display surface exists",
		}),
		width: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "width_pixels",
			Help:      "Configured preview width",
		}),
		height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "height_pixels",
			Help:      "Configured preview height",
		}),
		fpsLower: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "fps_range_lower",
			Help:      "Lower bound of the requested frame rate range",
		}),
		fpsUpper: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "fps_range_upper",
			Help:      "Upper bound of the requested frame rate range",
		}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preview",
			Name:      "cycles_total",
			Help:      "Preview sessions brought up",
		}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "camera",
			Name:      "errors_total",
			Help:      "Camera errors by lifecycle step and code",
		}, []string{"step", "code"}),
		fps: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "fps",
			Help:      "Measured preview frame rate",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "total",
			Help:      "Frames by outcome",
		}, []string{"result"}),
	}
}

// Attach subscribes the collector to bus. The returned function
// unsubscribes.
func (c *Collector) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(c.onPhase),
		bus.Subscribe(c.onSurface),
		bus.Subscribe(c.onPreview),
		bus.Subscribe(c.onError),
		bus.Subscribe(c.onFrameStats),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (c *Collector) onPhase(ev events.PhaseChangedEvent) {
	for p := lifecycle.Initialized; p <= lifecycle.Destroyed; p++ {
		v := 0.0
		if p.String() == ev.To {
			v = 1
		}
		c.phase.WithLabelValues(p.String()).Set(v)
	}
	c.transitions.WithLabelValues(ev.To).Inc()
}

func (c *Collector) onSurface(ev events.SurfaceChangedEvent) {
	if ev.Ready {
		c.surface.Set(1)
	} else {
		c.surface.Set(0)
	}
}

func (c *Collector) onPreview(ev events.PreviewConfiguredEvent) {
	c.width.Set(float64(ev.Width))
	c.height.Set(float64(ev.Height))
	c.fpsLower.Set(float64(ev.FPSLower))
	c.fpsUpper.Set(float64(ev.FPSUpper))
	c.cycles.Inc()
}

func (c *Collector) onError(ev events.CameraErrorEvent) {
	code := ev.Code
	if code == "" {
		code = "UNKNOWN"
	}
	c.errors.WithLabelValues(ev.Step, code).Inc()
}

// onFrameStats turns the per-cycle running totals into counter increments.
func (c *Collector) onFrameStats(ev events.FrameStatsEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last
	if ev.CycleID != c.cycle {
		prev = events.FrameStatsEvent{}
		c.cycle = ev.CycleID
	}
	c.fps.Set(ev.FPS)
	c.add("rendered", ev.Rendered, prev.Rendered)
	c.add("delivered", ev.Delivered, prev.Delivered)
	c.add("dropped", ev.Dropped, prev.Dropped)
	c.add("missed", ev.Missed, prev.Missed)
	c.last = ev
}

func (c *Collector) add(result string, cur, prev uint64) {
	if cur > prev {
		c.frames.WithLabelValues(result).Add(float64(cur - prev))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
