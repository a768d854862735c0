package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log levels, aliased from slog.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Type aliases for commonly used slog types.
type (
	Logger  = *slog.Logger
	Handler = slog.Handler
	Level   = slog.Level
)

// LoggerConfig holds configuration parameters for logging.
type LoggerConfig struct {
	// AppName is added to every record as "app"
	AppName string

	// Output is "stdout", "stderr", "discard" or a file path
	Output string `env:"OUTPUT" default:"stderr"`

	// Level is the minimum level ("debug", "info", "warn", "error")
	Level string `env:"LEVEL" default:"info"`

	// Filter overrides levels per logger name prefix ("repo.user:debug,svc:warn")
	Filter string `env:"FILTER" default:""`

	// JSON switches from console to JSON output
	JSON bool `env:"JSON" default:"false"`

	// OutputHandle, if set, takes precedence over Output
	OutputHandle io.Writer
}

//nolint:gochecknoglobals
var (
	Group = slog.Group

	state struct {
		sync.Mutex
		cfg    LoggerConfig
		output io.Writer
	}
)

// Configure sets the global logging configuration. Loggers obtained before the call
// keep their previous configuration.
func Configure(ctx context.Context, cfg LoggerConfig, appName string) {
	cfg.AppName = appName

	output := cfg.OutputHandle
	if output == nil {
		output = openOutput(cfg.Output)
	}

	state.Lock()
	state.cfg = cfg
	state.output = output
	state.Unlock()

	slog.SetLogLoggerLevel(parseLevel(cfg.Level, LevelInfo))

	GetLogger("infra.logging").DebugContext(ctx, "logging configured", Group("config",
		"output", cfg.Output,
		"level", cfg.Level,
		"filter", cfg.Filter,
		"json", cfg.JSON,
	))
}

func openOutput(output string) io.Writer {
	switch output {
	case "", "discard":
		return io.Discard
	case "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		panic(fmt.Errorf("open log file: %w", err))
	}

	return file
}

// GetLogger returns a logger named name using the global configuration.
// The name is attached as "logger" and drives per-name level filters.
// Before Configure is called, loggers discard everything.
func GetLogger(name string) Logger {
	state.Lock()
	cfg, output := state.cfg, state.output
	state.Unlock()

	if output == nil || output == io.Discard {
		return NewNopLogger()
	}

	level := parseLevel(cfg.Level, LevelInfo)
	if override, ok := levelFor(name, parseFilter(cfg.Filter)); ok {
		level = override
	}

	var handler Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{AddSource: true, Level: level})
	} else {
		handler = NewConsoleHandler(output, level)
	}

	logger := slog.New(NewTracingHandler(handler))
	if cfg.AppName != "" {
		logger = logger.With("app", cfg.AppName)
	}

	return logger.With("logger", name)
}

// GetLogLogger creates a standard library *log.Logger that writes through logger.
// Used for third-party code that expects a *log.Logger, such as http.Server.
func GetLogLogger(logger Logger, level Level) *log.Logger {
	return slog.NewLogLogger(logger.With("stdlog", true).Handler(), level)
}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// parseFilter turns "pkg:level,pkg:level" into a map.
func parseFilter(filter string) map[string]Level {
	levels := make(map[string]Level)

	for _, entry := range strings.Split(filter, ",") {
		name, lvl, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}

		levels[name] = parseLevel(lvl, LevelDebug)
	}

	return levels
}

// levelFor finds the override for the longest dotted prefix of name.
func levelFor(name string, levels map[string]Level) (Level, bool) {
	for key := name; key != ""; {
		if level, ok := levels[key]; ok {
			return level, true
		}

		idx := strings.LastIndex(key, ".")
		if idx < 0 {
			break
		}

		key = key[:idx]
	}

	return 0, false
}

func parseLevel(s string, fallback Level) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return fallback
	}
}
