package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger to write to stdout.
func Init(serviceName string, debug bool) {
	InitWithWriter(serviceName, debug, os.Stdout)
}

// InitWithWriter configures the global logger to write to out.
// The terminal UI owns stdout, so it passes a log file here.
func InitWithWriter(serviceName string, debug bool, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "message"

	log.Logger = zerolog.New(console(out)).
		Level(levelFor(debug)).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	log.Debug().Msg("Logger initialized")
}

// console renders "| level | message key:value" lines, colored on stdout only.
func console(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:             out,
		NoColor:         out != os.Stdout,
		TimeFormat:      time.RFC3339,
		FormatLevel:     column("| %-6s|"),
		FormatMessage:   column("| %s"),
		FormatFieldName: column("%s:"),
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprint(i)
		},
	}
}

func column(format string) zerolog.Formatter {
	return func(i interface{}) string { return fmt.Sprintf(format, i) }
}

func levelFor(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// OpenFile opens path for appending log lines.
func OpenFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// Component returns the global logger narrowed to a component.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
