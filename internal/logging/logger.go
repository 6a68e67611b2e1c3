package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// levelFor returns the level of module under c: the module override when it
// parses, else the global level, else info.
func (c Config) levelFor(module string) slog.Level {
	level, ok := ParseLevel(c.Level)
	if !ok {
		level = slog.LevelInfo
	}
	if override, ok := ParseLevel(c.Modules[module]); ok {
		level = override
	}
	return level
}

// state is the process-wide logging setup. Module loggers keep their
// LevelVar for the life of the process, so a logger captured before
// Initialize or SetLevels still follows later level changes.
var state = struct {
	sync.RWMutex
	config      Config
	initialized bool
	loggers     map[string]*slog.Logger
	levels      map[string]*slog.LevelVar
	global      slog.LevelVar
	buffer      *RingBuffer
	callback    LogCallback
}{
	loggers: make(map[string]*slog.Logger),
	levels:  make(map[string]*slog.LevelVar),
}

// Initialize sets up the logging system. Module loggers created earlier get
// the full handler chain and their configured level.
func Initialize(config Config) {
	state.Lock()
	defer state.Unlock()

	state.config = config
	state.initialized = true
	state.buffer = NewRingBuffer(defaultBufferSize)
	state.global.Set(config.levelFor(""))

	for module, levelVar := range state.levels {
		levelVar.Set(config.levelFor(module))
		state.loggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, &state.global)))
}

// SetLevels applies new global and module levels without rebuilding any
// handler. The output format is left unchanged.
func SetLevels(level string, modules map[string]string) {
	state.Lock()
	defer state.Unlock()

	state.config.Level = level
	state.config.Modules = modules
	state.global.Set(state.config.levelFor(""))
	for module, levelVar := range state.levels {
		levelVar.Set(state.config.levelFor(module))
	}
}

// GetBuffer returns the log ring buffer for reading historical logs.
func GetBuffer() *RingBuffer {
	state.RLock()
	defer state.RUnlock()
	return state.buffer
}

// SetLogCallback sets a callback to be called for each new log entry.
// Used for publishing log events to SSE clients.
func SetLogCallback(callback LogCallback) {
	state.Lock()
	defer state.Unlock()
	state.callback = callback
}

// sink returns the buffer and callback records are delivered to.
func sink() (*RingBuffer, LogCallback) {
	state.RLock()
	defer state.RUnlock()
	return state.buffer, state.callback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	state.RLock()
	logger, ok := state.loggers[module]
	state.RUnlock()
	if ok {
		return logger
	}

	state.Lock()
	defer state.Unlock()
	if logger, ok := state.loggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if state.initialized {
		levelVar.Set(state.config.levelFor(module))
		format = state.config.Format
	}

	logger = slog.New(createHandler(format, levelVar)).With("module", module)
	state.loggers[module] = logger
	state.levels[module] = levelVar
	return logger
}

// createHandler builds the handler chain for one logger: stdout when it is
// connected, the journal when it is available, and always the ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdout)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable reports whether stdout is a terminal, pipe, socket or
// regular file. /dev/null is a device and does not count.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&os.ModeCharDevice != 0 || mode&os.ModeNamedPipe != 0 || mode&os.ModeSocket != 0 || mode.IsRegular()
}

// ParseLevel converts a level name to a slog.Level. It accepts debug, info,
// warn (or warning) and error in any case.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}
