package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// DefaultBufferSize is the number of log lines kept for /api/logs/stream.
const DefaultBufferSize = 1000

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`

	// BufferSize overrides DefaultBufferSize.
	BufferSize int `toml:"-"`
	// Output replaces stdout. The journal handler is skipped when set.
	Output io.Writer `toml:"-"`
}

type registry struct {
	mu          sync.RWMutex
	config      Config
	initialized bool
	global      *slog.LevelVar
	loggers     map[string]*slog.Logger
	levels      map[string]*slog.LevelVar
	buffer      *RingBuffer
	callback    LogCallback
}

var state = &registry{
	global:  &slog.LevelVar{},
	loggers: make(map[string]*slog.Logger),
	levels:  make(map[string]*slog.LevelVar),
}

// Initialize sets up the logging system. Module loggers handed out before
// the call are rebuilt so they pick up the configured format and outputs.
func Initialize(config Config) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	state.config = config
	state.initialized = true
	state.buffer = NewRingBuffer(config.BufferSize)
	state.global.Set(levelOr(config.Level, slog.LevelInfo))

	for module, levelVar := range state.levels {
		levelVar.Set(state.moduleLevel(module))
		state.loggers[module] = slog.New(state.handler(levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(state.handler(state.global)))
}

// GetBuffer returns the log ring buffer for reading historical logs.
func GetBuffer() *RingBuffer {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.buffer
}

// SetLogCallback sets a callback to be called for each new log entry.
// main uses it to publish log lines on the event bus.
func SetLogCallback(callback LogCallback) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.callback = callback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	state.mu.RLock()
	logger, ok := state.loggers[module]
	state.mu.RUnlock()
	if ok {
		return logger
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if logger, ok := state.loggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(state.moduleLevel(module))

	logger = slog.New(state.handler(levelVar)).With("module", module)
	state.loggers[module] = logger
	state.levels[module] = levelVar
	return logger
}

// SetLevel changes the level of one module at runtime. An empty module
// changes the global level used by modules without their own setting.
func SetLevel(module, level string) error {
	parsed := parseLevel(level)
	if parsed == nil {
		return fmt.Errorf("unknown log level %q", level)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if module == "" {
		state.global.Set(*parsed)
		state.config.Level = level
		for name, levelVar := range state.levels {
			if _, own := state.config.Modules[name]; !own {
				levelVar.Set(*parsed)
			}
		}
		return nil
	}

	if state.config.Modules == nil {
		state.config.Modules = make(map[string]string)
	}
	state.config.Modules[module] = level
	if levelVar, ok := state.levels[module]; ok {
		levelVar.Set(*parsed)
	}
	return nil
}

// Levels reports the effective level of every module logger created so far.
func Levels() map[string]string {
	state.mu.RLock()
	defer state.mu.RUnlock()

	levels := make(map[string]string, len(state.levels))
	for module, levelVar := range state.levels {
		levels[module] = strings.ToLower(levelVar.Level().String())
	}
	return levels
}

// moduleLevel must be called with the lock held.
func (r *registry) moduleLevel(module string) slog.Level {
	if !r.initialized {
		return slog.LevelInfo
	}
	global := levelOr(r.config.Level, slog.LevelInfo)
	return levelOr(r.config.Modules[module], global)
}

// handler builds the fan-out chain: stdout (or Output), the systemd journal
// when present, and the ring buffer. Must be called with the lock held.
func (r *registry) handler(level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	out := r.config.Output
	useStdout := out != nil
	if out == nil {
		out = os.Stdout
		useStdout = isStdoutAvailable()
	}

	var primary slog.Handler
	if r.config.Format == "json" {
		primary = slog.NewJSONHandler(out, opts)
	} else {
		primary = slog.NewTextHandler(out, opts)
	}

	var handlers []slog.Handler
	if useStdout {
		handlers = append(handlers, primary)
	}
	if r.config.Output == nil && IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	// The buffer handler looks up the current buffer on every record
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewFanout(handlers...)
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	// /dev/null is a device and is skipped
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

func levelOr(level string, fallback slog.Level) slog.Level {
	if parsed := parseLevel(level); parsed != nil {
		return *parsed
	}
	return fallback
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
