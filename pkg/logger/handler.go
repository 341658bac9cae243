package logger

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

var envLevels = map[string]slog.Level{
	"dev":  slog.LevelDebug,
	"prod": slog.LevelInfo,
	"test": slog.LevelError,
}

func createHandler(config Config) (slog.Handler, error) {
	env := strings.ToLower(config.Env)

	level, err := parseLogLevel(env, config.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource && env != "test",
	}

	switch env {
	case "prod":
		opts.ReplaceAttr = replaceAttr("", config.SourcePathLength)
		return slog.NewJSONHandler(config.Output, opts), nil

	case "dev":
		// Dev logs are read by people, so the timestamp is short
		opts.ReplaceAttr = replaceAttr(config.TimeFormat, config.SourcePathLength)
		return slog.NewTextHandler(config.Output, opts), nil

	case "test":
		return slog.NewTextHandler(config.Output, opts), nil

	default:
		return nil, fmt.Errorf("unknown environment: %s (use 'dev', 'prod', or 'test')", config.Env)
	}
}

// parseLogLevel returns the explicit level when set, else the env default
func parseLogLevel(env, explicit string) (slog.Level, error) {
	if explicit == "" {
		if level, ok := envLevels[env]; ok {
			return level, nil
		}
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(explicit)); err != nil {
		return 0, fmt.Errorf("unknown log level: %s (use 'debug', 'info', 'warn' or 'error')", explicit)
	}
	return level, nil
}

// replaceAttr formats timestamps when timeFormat is set and trims source
// paths to their last pathLength segments
func replaceAttr(timeFormat string, pathLength int) func([]string, slog.Attr) slog.Attr {
	if timeFormat == "" && pathLength <= 0 {
		return nil
	}

	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}

		switch a.Key {
		case slog.TimeKey:
			if t, ok := a.Value.Any().(time.Time); ok && timeFormat != "" {
				a.Value = slog.StringValue(t.Format(timeFormat))
			}
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok && src != nil && pathLength > 0 {
				src.File = shortenPath(src.File, pathLength)
			}
		}
		return a
	}
}

// shortenPath keeps the last segments of path
func shortenPath(path string, segments int) string {
	if segments <= 0 {
		return path
	}

	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= segments {
		return path
	}

	return strings.Join(parts[len(parts)-segments:], "/")
}
