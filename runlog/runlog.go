// Package runlog contains the logger for pipeline runs
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogLevel determines what should be logged
type LogLevel slog.Level

// Format selects the handler used to render log records
type Format string

const (
	// FormatText renders human readable, colourised lines when attached to a terminal
	FormatText Format = "text"

	// FormatJSON renders one JSON object per line
	FormatJSON Format = "json"
)

var (
	// Debug logs at the debug level
	Debug = LogLevel(slog.LevelDebug)

	// Info logs at the info level
	Info = LogLevel(slog.LevelInfo)

	// Warning logs at the warning level
	Warning = LogLevel(slog.LevelWarn)

	// Error logs at the error level
	Error = LogLevel(slog.LevelError)

	currentLevel = &slog.LevelVar{}
	std          = New(os.Stderr, os.Stdout, FormatText, currentLevel)
)

// Logger is a leveled logger. Messages are formatted printf style, structured attributes are
// attached with With.
type Logger struct {
	logger *slog.Logger
	output io.Writer
}

// New returns a logger writing records to w and Outputf results to output
func New(w io.Writer, output io.Writer, format Format, level slog.Leveler) *Logger {
	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	}

	return &Logger{
		logger: slog.New(handler),
		output: output,
	}
}

// Discard returns a logger that drops everything. Used by tests and library callers that do not
// care about logs.
func Discard() *Logger {
	return New(io.Discard, io.Discard, FormatJSON, slog.LevelError+1)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// With returns a child logger that adds the given attributes to every record
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		output: l.output,
	}
}

// Output is the writer Outputf prints to
func (l *Logger) Output() io.Writer {
	return l.output
}

// Outputf prints the output directly. It is intended to be used for chaining commands
func (l *Logger) Outputf(format string, a ...interface{}) {
	fmt.Fprintf(l.output, format, a...)
}

// Debugf logs at the debug level
func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logAtLevel(Debug, format, a...)
}

// Infof logs at the info level
func (l *Logger) Infof(format string, a ...interface{}) {
	l.logAtLevel(Info, format, a...)
}

// Warningf logs at the warning level
func (l *Logger) Warningf(format string, a ...interface{}) {
	l.logAtLevel(Warning, format, a...)
}

// Errorf logs at the error level
func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logAtLevel(Error, format, a...)
}

// Fatalf logs at the error level and exits the process
func (l *Logger) Fatalf(format string, a ...interface{}) {
	l.logAtLevel(Error, format, a...)
	os.Exit(1)
}

func (l *Logger) logAtLevel(level LogLevel, format string, a ...interface{}) {
	if !l.logger.Enabled(context.Background(), slog.Level(level)) {
		return
	}

	l.logger.Log(context.Background(), slog.Level(level), fmt.Sprintf(format, a...))
}

// SetLogLevel sets the log level of the default logger and every logger derived from it
func SetLogLevel(level LogLevel) {
	currentLevel.Set(slog.Level(level))
}

// SetFormat replaces the default logger with one using the given format
func SetFormat(format Format) {
	std = New(os.Stderr, os.Stdout, format, currentLevel)
}

// Default returns the default logger
func Default() *Logger {
	return std
}

// Outputf prints the output directly
func Outputf(format string, a ...interface{}) {
	std.Outputf(format, a...)
}

// Debugf logs at the debug level
func Debugf(format string, a ...interface{}) {
	std.Debugf(format, a...)
}

// Infof logs at the info level
func Infof(format string, a ...interface{}) {
	std.Infof(format, a...)
}

// Warningf logs at the warning level
func Warningf(format string, a ...interface{}) {
	std.Warningf(format, a...)
}

// Errorf logs at the error level
func Errorf(format string, a ...interface{}) {
	std.Errorf(format, a...)
}

// Fatalf logs at the error level. This also causes the program to exit
func Fatalf(format string, a ...interface{}) {
	std.Fatalf(format, a...)
}
