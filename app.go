package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/theia/cmd"
	"github.com/smazurov/theia/internal/api"
	"github.com/smazurov/theia/internal/camera"
	"github.com/smazurov/theia/internal/config"
	"github.com/smazurov/theia/internal/coordinator"
	"github.com/smazurov/theia/internal/events"
	"github.com/smazurov/theia/internal/lifecycle"
	"github.com/smazurov/theia/internal/logging"
	"github.com/smazurov/theia/internal/metrics"
	"github.com/smazurov/theia/internal/ratemeter"
	"github.com/smazurov/theia/internal/render"
	"github.com/smazurov/theia/internal/systemd"
	"github.com/smazurov/theia/internal/viewer"
)

const destroyTimeout = 5 * time.Second

// errDestroyed ends the run group when a client moves the lifecycle to
// destroyed.
var errDestroyed = errors.New("lifecycle destroyed")

type runner interface {
	Run(ctx context.Context) error
}

type app struct {
	logger   *slog.Logger
	port     string
	initial  lifecycle.Phase
	manager  camera.Manager
	coord    *coordinator.Coordinator
	registry *lifecycle.Registry
	server   *api.Server
	watcher  *config.Watcher[config.Preview]
	levels   *config.Watcher[logging.Config]
	notifier *systemd.Notifier

	detachMetrics func()
	destroyed     chan struct{}
}

func previewFromOptions(opts *Options) coordinator.Preview {
	return coordinator.Preview{
		MaxWidth:  opts.PreviewMaxWidth,
		MaxHeight: opts.PreviewMaxHeight,
		FPSStep:   opts.PreviewFPSStep,
		Overlay:   opts.PreviewOverlay,
		Filter:    opts.PreviewFilter,
	}
}

// coordinatorOptions maps the startup options onto the coordinator.
func coordinatorOptions(opts *Options, manager camera.Manager, target render.Target, bus *events.Bus) (coordinator.Options, error) {
	clock, err := ratemeter.ParseClock(opts.PreviewClock)
	if err != nil {
		return coordinator.Options{}, fmt.Errorf("preview.clock: %w", err)
	}
	return coordinator.Options{
		Manager:   manager,
		Target:    target,
		Bus:       bus,
		DeviceID:  opts.CameraDevice,
		MaxImages: opts.CameraMaxImages,
		Clock:     clock,
		Preview:   previewFromOptions(opts),
	}, nil
}

func previewFromConfig(p config.Preview) coordinator.Preview {
	return coordinator.Preview{
		MaxWidth:  p.MaxWidth,
		MaxHeight: p.MaxHeight,
		FPSStep:   p.FPSStep,
		Overlay:   p.Overlay,
		Filter:    p.Filter,
	}
}

func newApp(opts *Options) (*app, error) {
	logger := logging.GetLogger("main")
	bus := events.New()

	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(events.LogEntryEvent{
			Seq:        entry.Seq,
			Timestamp:  entry.Timestamp.UTC().Format(time.RFC3339Nano),
			Level:      entry.Level,
			Module:     entry.Module,
			Message:    entry.Message,
			Attributes: entry.Attributes,
		})
	})

	manager, err := cmd.NewManager(opts.CameraBackend)
	if err != nil {
		return nil, err
	}

	view := viewer.New(viewer.Config{
		Width:    opts.ViewerWidth,
		Height:   opts.ViewerHeight,
		Quality:  opts.ViewerJPEGQuality,
		Rotation: opts.ViewerRotation,
	})

	coordOpts, err := coordinatorOptions(opts, manager, view, bus)
	if err != nil {
		return nil, err
	}
	coord, err := coordinator.New(coordOpts)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	a := &app{
		logger:    logger,
		port:      opts.Port,
		initial:   lifecycle.Resumed,
		manager:   manager,
		coord:     coord,
		registry:  lifecycle.NewRegistry(coord),
		notifier:  systemd.NewNotifier(logger),
		destroyed: make(chan struct{}),
	}
	if opts.Background {
		a.initial = lifecycle.Stopped
	}

	var once sync.Once
	a.registry.OnTransition(func(from, to lifecycle.Phase) {
		logger.Debug("Lifecycle transition", "from", from, "to", to)
		a.notifier.Status(to.String())
		if to == lifecycle.Destroyed {
			once.Do(func() { close(a.destroyed) })
		}
	})

	collector := metrics.New(prometheus.DefaultRegisterer)
	a.detachMetrics = collector.Attach(bus)

	a.server = api.NewServer(&api.Options{
		AuthUsername:      opts.AuthUsername,
		AuthPassword:      opts.AuthPassword,
		Bus:               bus,
		Status:            coord,
		Lifecycle:         a.registry,
		Devices:           manager,
		Viewer:            view,
		PrometheusHandler: metrics.Handler(prometheus.DefaultGatherer),
	})

	if _, statErr := os.Stat(opts.Config); statErr == nil {
		a.watcher = config.NewConfigWatcher(opts.Config, config.LoadPreview, logging.GetLogger("config"))
		a.watcher.OnReload(func(p config.Preview) {
			if setErr := coord.SetPreview(previewFromConfig(p)); setErr != nil {
				logger.Warn("Rejected preview settings", "error", setErr)
				return
			}
			logger.Info("Preview settings reloaded",
				"max_width", p.MaxWidth, "max_height", p.MaxHeight, "filter", p.Filter)
		})

		// Levels from the file replace the startup levels on every save.
		a.levels = config.NewConfigWatcher(opts.Config, config.LoadLogging, logging.GetLogger("config"))
		a.levels.OnReload(func(cfg logging.Config) {
			logging.SetLevels(cfg.Level, cfg.Modules)
			logger.Info("Log levels reloaded", "level", cfg.Level, "modules", len(cfg.Modules))
		})
	}

	return a, nil
}

// run serves until ctx is done or the lifecycle reaches destroyed, then
// tears the pipeline down.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if r, ok := a.manager.(runner); ok {
		g.Go(func() error { return r.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
		g.Go(func() error { return a.levels.Run(gctx) })
	}
	g.Go(func() error { return a.server.Run(gctx, a.port) })
	g.Go(func() error { return a.notifier.RunWatchdog(gctx) })
	g.Go(func() error { return a.drive(gctx) })

	err := g.Wait()
	a.shutdown()
	if errors.Is(err, errDestroyed) {
		return nil
	}
	return err
}

// drive brings the lifecycle to its initial phase and toggles between
// foreground and background on SIGUSR1.
func (a *app) drive(ctx context.Context) error {
	if err := a.registry.MoveTo(a.initial); err != nil {
		return fmt.Errorf("move to %s: %w", a.initial, err)
	}
	a.notifier.Ready()

	toggle := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)
	defer signal.Stop(toggle)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.destroyed:
			return errDestroyed
		case <-toggle:
			next := lifecycle.Resumed
			if a.registry.Phase() == lifecycle.Resumed {
				next = lifecycle.Stopped
			}
			if err := a.registry.MoveTo(next); err != nil {
				a.logger.Warn("Lifecycle toggle failed", "to", next, "error", err)
				continue
			}
			a.logger.Info("Lifecycle toggled", "phase", next)
		}
	}
}

func (a *app) shutdown() {
	a.notifier.Stopping()

	if err := a.registry.MoveTo(lifecycle.Destroyed); err != nil {
		a.logger.Warn("Failed to destroy lifecycle", "error", err)
	}
	select {
	case <-a.coord.Done():
	case <-time.After(destroyTimeout):
		a.logger.Warn("Timed out waiting for the coordinator to stop")
	}
	a.detachMetrics()
}
