package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls where and how much the process logs.
type Options struct {
	// Level is a zerolog level name. Empty means info.
	Level string
	// File, when set, receives JSON lines through a rotating writer.
	File string
	// Console selects the human-readable writer for stdout instead of JSON.
	Console bool
	// Out replaces stdout. Used by tests.
	Out io.Writer
}

// Init builds the global logger. It returns a closer for the log file, if any.
func Init(opts Options) (io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(out, fileWriter)
		closer = fileWriter
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("app", "vow-backend").
		Logger()

	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
