package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/theia/cmd"
	"github.com/smazurov/theia/internal/config"
	"github.com/smazurov/theia/internal/logging"
	"github.com/smazurov/theia/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CameraBackend   string `help:"Camera backend (v4l2, synthetic)" default:"v4l2" toml:"camera.backend" env:"CAMERA_BACKEND"`
	CameraDevice    string `help:"Camera device ID, empty for the first ready device" default:"" toml:"camera.device" env:"CAMERA_DEVICE"`
	CameraMaxImages int    `help:"Frames in flight per preview reader" default:"2" toml:"camera.max_images" env:"CAMERA_MAX_IMAGES"`

	// Preview settings, reloaded from the config file while running
	PreviewMaxWidth  int    `help:"Preview size ceiling width" default:"800" toml:"preview.max_width" env:"PREVIEW_MAX_WIDTH"`
	PreviewMaxHeight int    `help:"Preview size ceiling height" default:"500" toml:"preview.max_height" env:"PREVIEW_MAX_HEIGHT"`
	PreviewFPSStep   int    `help:"Frames per rate measurement" default:"20" toml:"preview.fps_step" env:"PREVIEW_FPS_STEP"`
	PreviewOverlay   bool   `help:"Draw the frame rate overlay" default:"true" toml:"preview.overlay" env:"PREVIEW_OVERLAY"`
	PreviewFilter    string `help:"Frame filter (none, dehaze, edges)" default:"none" toml:"preview.filter" env:"PREVIEW_FILTER"`
	// Read once at startup.
	PreviewClock string `help:"Rate meter clock (tick, milli, nano)" default:"tick" toml:"preview.clock" env:"PREVIEW_CLOCK"`

	// Viewer settings
	ViewerWidth       int `help:"Default viewer surface width" default:"1280" toml:"viewer.width" env:"VIEWER_WIDTH"`
	ViewerHeight      int `help:"Default viewer surface height" default:"720" toml:"viewer.height" env:"VIEWER_HEIGHT"`
	ViewerJPEGQuality int `help:"Viewer JPEG quality (1-100)" default:"80" toml:"viewer.jpeg_quality" env:"VIEWER_JPEG_QUALITY"`
	ViewerRotation    int `help:"Display rotation in degrees, reported on surface changes" default:"0" toml:"viewer.rotation" env:"VIEWER_ROTATION"`

	// Lifecycle settings
	Background bool `help:"Start in the background (stopped) phase" default:"false" toml:"lifecycle.background" env:"LIFECYCLE_BACKGROUND"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCoordinator string `help:"Coordinator logging level" default:"info" toml:"logging.coordinator" env:"LOGGING_COORDINATOR"`
	LoggingCamera      string `help:"Camera backend logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingViewer      string `help:"Viewer logging level" default:"info" toml:"logging.viewer" env:"LOGGING_VIEWER"`
	LoggingAPI         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Module levels without a flag come straight from [logging].
		modules := config.LoadLoggingConfig(opts.Config).Modules
		modules["coordinator"] = opts.LoggingCoordinator
		modules["camera"] = opts.LoggingCamera
		modules["viewer"] = opts.LoggingViewer
		modules["api"] = opts.LoggingAPI
		logging.Initialize(logging.Config{
			Level:   opts.LoggingLevel,
			Format:  opts.LoggingFormat,
			Modules: modules,
		})

		logger := logging.GetLogger("main")
		logger.Info("Starting theia", "version", version.String(), "backend", opts.CameraBackend)

		a, err := newApp(opts)
		if err != nil {
			logger.Error("Failed to initialize", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		finished := make(chan struct{})

		hooks.OnStart(func() {
			defer close(finished)
			if runErr := a.run(ctx); runErr != nil {
				logger.Error("Theia stopped with error", "error", runErr)
				os.Exit(1)
			}
			logger.Info("Theia stopped")
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			<-finished
		})
	})

	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	cli.Run()
}
