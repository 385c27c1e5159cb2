package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options configure a scoped logger. Nothing here touches zerolog globals so
// concurrent evaluations can each own a sink.
type Options struct {
	Service string
	Level   string
	// FilePath, when set, receives a copy of every line. The file is
	// truncated when the logger is created.
	FilePath string
	// Console switches stdout output to zerolog's human readable writer.
	Console bool
	Output  io.Writer
}

// New builds a logger and returns a close func for the optional run log file.
func New(opts Options) (zerolog.Logger, func() error, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}

	closer := func() error { return nil }
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		out = zerolog.MultiLevelWriter(out, f)
		closer = f.Close
	}

	l := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
	return l, closer, nil
}

// ParseLevel maps LOG_LEVEL style names to zerolog levels, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
