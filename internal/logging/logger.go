package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	Enabled bool      `yaml:"enabled"`
	Level   string    `yaml:"level"`  // debug, info, warn, error
	Format  string    `yaml:"format"` // text, json
	Output  io.Writer `yaml:"-"`
}

// DefaultConfig logs at info level as text to stdout.
var DefaultConfig = Config{
	Enabled: true,
	Level:   "info",
	Format:  "text",
}

// Component tags log lines with the subsystem that produced them.
type Component string

func (c Component) LogValue() slog.Value {
	return slog.StringValue(string(c))
}

const (
	ComponentNode      Component = "node"
	ComponentQuorum    Component = "quorum"
	ComponentCatchUp   Component = "catchup"
	ComponentSyncLoop  Component = "syncloop"
	ComponentTransport Component = "transport"
	ComponentDiscovery Component = "discovery"
	ComponentChangeLog Component = "changelog"
)

// Logger is a thin wrapper around slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a logger from config. A disabled config yields a logger
// that drops everything.
func New(config Config) *Logger {
	if !config.Enabled {
		return Discard()
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent creates a child logger tagged with component.
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// WithNode creates a child logger tagged with the local node id.
func (l *Logger) WithNode(nodeID string) *Logger {
	return &Logger{Logger: l.With(slog.String("node", nodeID))}
}

// LogError logs err at error level with extra attributes.
func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...any) {
	l.ErrorContext(ctx, msg, append([]any{slog.String("error", err.Error())}, args...)...)
}
