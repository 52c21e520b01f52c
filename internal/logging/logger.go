package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"disksanitizer/internal/config"
)

// Logger is the audit logger shared by every stage. JSON lines go to the
// configured file; a human console stream goes to stderr.
type Logger struct {
	zl   zerolog.Logger
	file *os.File
}

// New builds a logger from configuration. The console shows WARN and above
// unless verbose is set. A log file that cannot be opened is reported and
// skipped; logging never blocks a run.
func New(cfg *config.Config, verbose bool) (*Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	consoleLevel := zerolog.WarnLevel
	if verbose {
		consoleLevel = level
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writers := []io.Writer{
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  consoleLevel,
		},
	}

	l := &Logger{}
	if cfg.Logging.File != "" {
		f, err := openLogFile(cfg.Logging.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] log file %s unavailable, console only: %v\n", cfg.Logging.File, err)
		} else {
			l.file = f
			writers = append(writers, f)
		}
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return l, nil
}

// NewWithWriter logs JSON lines to w at the given level.
func NewWithWriter(w io.Writer, level string) *Logger {
	return &Logger{zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Log writes one entry. fields are alternating key/value pairs.
func (l *Logger) Log(level, message string, fields ...interface{}) {
	if l == nil {
		return
	}
	ev := l.zl.WithLevel(parseLevel(level))
	if ev == nil {
		return
	}
	if len(fields)%2 != 0 {
		fields = append(fields, "(missing)")
	}
	ev.Fields(fields).Msg(message)
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(fields ...interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger(), file: l.file}
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
