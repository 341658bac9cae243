package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

type Config struct {
	// dev, prod or test
	Env string

	// Overrides the env default when set: debug, info, warn or error
	Level string

	AddSource bool

	// Keep only the last N path segments of source files, 0 keeps all
	SourcePathLength int

	// Time layout for dev logs
	TimeFormat string

	// Defaults to stdout
	Output io.Writer
}

// Logger is a wrapper around slog.Logger with additional methods
type Logger struct {
	*slog.Logger
}

// New builds a logger for config and installs it as the slog default
func New(config Config) (*Logger, error) {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.TimeOnly
	}

	handler, err := createHandler(config)
	if err != nil {
		return nil, fmt.Errorf("failed to determine handler: %w", err)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return &Logger{
		Logger: logger,
	}, nil
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) *slog.Logger {
	return l.With("component", name)
}
