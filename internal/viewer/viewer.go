// Package viewer is a render target that shows the preview in a browser as
// an MJPEG stream.
//
// The surface exists while at least one client is connected: the first
// client creates it, at the size it asks for with ?w=&h= or the configured
// default, and the last one to leave destroys it. Listeners see these as
// SurfaceReady and SurfaceGone.
package viewer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/image/draw"

	"github.com/smazurov/theia/internal/logging"
	"github.com/smazurov/theia/internal/render"
)

// Boundary separates the JPEG parts of the stream.
const Boundary = "theiaframe"

// Surface size limits accepted from clients.
const (
	minSide = 16
	maxSide = 4096
)

// Config configures the viewer.
type Config struct {
	// Width and Height are the surface size used when the first client
	// does not ask for one.
	Width   int
	Height  int
	Quality int
	// Rotation is reported to listeners for diagnostics. It is normalised
	// to 0, 90, 180 or 270; other angles become 0.
	Rotation int
}

// DefaultConfig returns a 1280x720 surface at JPEG quality 80.
func DefaultConfig() Config {
	return Config{Width: 1280, Height: 720, Quality: 80}
}

type client struct {
	id     string
	frames chan []byte
}

// Target is an MJPEG render.Target.
type Target struct {
	cfg    Config
	logger *slog.Logger
	pool   bytebufferpool.Pool

	drawMu sync.Mutex // held from Lock to Post

	mu       sync.Mutex
	surface  *image.RGBA
	listener render.SurfaceListener
	visible  bool
	clients  map[string]*client
	last     []byte

	posted atomic.Uint64
}

// New creates a viewer with no surface.
func New(cfg Config) *Target {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	cfg.Rotation = ((cfg.Rotation % 360) + 360) % 360
	if cfg.Rotation%90 != 0 {
		cfg.Rotation = 0
	}
	return &Target{
		cfg:     cfg,
		logger:  logging.GetLogger("viewer"),
		clients: make(map[string]*client),
	}
}

// Register adds the stream and snapshot routes to mux.
func (t *Target) Register(mux *http.ServeMux) {
	mux.Handle("GET /stream.mjpeg", http.HandlerFunc(t.serveStream))
	mux.Handle("GET /snapshot.jpg", http.HandlerFunc(t.serveSnapshot))
}

// Lock returns the surface. Every successful Lock must be followed by Post.
func (t *Target) Lock() (draw.Image, error) {
	t.drawMu.Lock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.surface == nil {
		t.drawMu.Unlock()
		return nil, render.ErrNoSurface
	}
	return t.surface, nil
}

// Post encodes the surface and sends it to every client. Hidden frames are
// dropped.
func (t *Target) Post(surface draw.Image) error {
	defer t.drawMu.Unlock()

	t.mu.Lock()
	visible := t.visible
	t.mu.Unlock()
	if !visible {
		return nil
	}

	buf := t.pool.Get()
	defer t.pool.Put(buf)
	if err := jpeg.Encode(buf, surface, &jpeg.Options{Quality: t.cfg.Quality}); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	frame := bytes.Clone(buf.B)

	t.mu.Lock()
	t.last = frame
	for _, c := range t.clients {
		// Latest frame wins for slow clients.
		select {
		case <-c.frames:
		default:
		}
		c.frames <- frame
	}
	t.mu.Unlock()

	t.posted.Add(1)
	return nil
}

// Bounds returns the surface size.
func (t *Target) Bounds() image.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.surface == nil {
		return image.Point{}
	}
	return t.surface.Rect.Size()
}

func (t *Target) SetVisible(visible bool) {
	t.mu.Lock()
	t.visible = visible
	t.mu.Unlock()
}

func (t *Target) Rotation() int {
	return t.cfg.Rotation
}

func (t *Target) SetListener(l render.SurfaceListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// Clients returns the number of connected clients.
func (t *Target) Clients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Posted returns the number of frames sent.
func (t *Target) Posted() uint64 {
	return t.posted.Load()
}

// attach registers a client, creating the surface for the first one.
func (t *Target) attach(size image.Point) *client {
	c := &client{id: uuid.NewString(), frames: make(chan []byte, 1)}

	t.mu.Lock()
	first := len(t.clients) == 0
	t.clients[c.id] = c
	if first {
		t.surface = image.NewRGBA(image.Rectangle{Max: size})
	}
	l := t.listener
	if t.last != nil {
		c.frames <- t.last
	}
	count := len(t.clients)
	t.mu.Unlock()

	t.logger.Info("Viewer connected", "client", c.id, "clients", count)
	if first && l != nil {
		l.SurfaceReady(size.X, size.Y)
	}
	return c
}

// detach removes a client, destroying the surface with the last one.
func (t *Target) detach(c *client) {
	t.mu.Lock()
	delete(t.clients, c.id)
	last := len(t.clients) == 0
	if last {
		t.surface = nil
		t.last = nil
	}
	l := t.listener
	remaining := len(t.clients)
	t.mu.Unlock()

	t.logger.Info("Viewer disconnected", "client", c.id, "clients", remaining)
	if last && l != nil {
		l.SurfaceGone()
	}
}

func (t *Target) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	size, err := t.requestedSize(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := t.attach(size)
	defer t.detach(c)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Client-ID", c.id)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-c.frames:
			if err := writePart(w, frame); err != nil {
				t.logger.Debug("Viewer write failed", "client", c.id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (t *Target) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	frame := t.last
	t.mu.Unlock()
	if frame == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	_, _ = w.Write(frame)
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

var errBadSize = errors.New("invalid surface size")

// requestedSize reads ?w=&h=. The first client's size is used for
// everyone, so later clients' sizes are validated but otherwise ignored.
func (t *Target) requestedSize(r *http.Request) (image.Point, error) {
	size := image.Pt(t.cfg.Width, t.cfg.Height)
	q := r.URL.Query()
	ws, hs := q.Get("w"), q.Get("h")
	if ws == "" && hs == "" {
		return size, nil
	}
	w, werr := strconv.Atoi(ws)
	h, herr := strconv.Atoi(hs)
	if werr != nil || herr != nil {
		return image.Point{}, fmt.Errorf("%w: w=%q h=%q", errBadSize, ws, hs)
	}
	if w < minSide || h < minSide || w > maxSide || h > maxSide {
		return image.Point{}, fmt.Errorf("%w: %dx%d outside %d..%d", errBadSize, w, h, minSide, maxSide)
	}
	return image.Pt(w, h), nil
}
