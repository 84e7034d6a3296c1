// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a config string onto a Level. Unknown values fall back to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides leveled logging.
type Logger struct {
	level  Level
	logger *logrus.Logger
	caller bool
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format.
// Format "json" emits one JSON object per line, "text" emits key=value lines
// tagged with the calling file and line.
func Init(level string, format string) {
	InitWithOutput(level, format, os.Stderr)
}

// InitWithOutput is Init with an explicit destination, used by tests.
func InitWithOutput(level string, format string, out io.Writer) {
	l := ParseLevel(level)

	lg := logrus.New()
	lg.SetOutput(out)
	lg.SetLevel(l.logrus())
	if strings.ToLower(format) == "text" {
		lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	} else {
		lg.SetFormatter(&logrus.JSONFormatter{})
	}

	defaultLogger = &Logger{
		level:  l,
		logger: lg,
		caller: strings.ToLower(format) == "text",
	}
}

// entry tags the record with the file and line that called the package-level
// helper. logrus's own caller reporting would always name this file.
func (l *Logger) entry() *logrus.Entry {
	e := logrus.NewEntry(l.logger)
	if !l.caller {
		return e
	}
	// 0 is entry, 1 the helper, 2 its caller.
	if _, file, line, ok := runtime.Caller(2); ok {
		e = e.WithField("caller", filepath.Base(file)+":"+strconv.Itoa(line))
	}
	return e
}

// Enabled reports whether messages at level l would be emitted.
func Enabled(l Level) bool {
	return defaultLogger != nil && defaultLogger.level <= l
}

func Debug(format string, args ...interface{}) {
	if Enabled(DebugLevel) {
		defaultLogger.entry().Debug(fmt.Sprintf(format, args...))
	}
}

func Info(format string, args ...interface{}) {
	if Enabled(InfoLevel) {
		defaultLogger.entry().Info(fmt.Sprintf(format, args...))
	}
}

func Warn(format string, args ...interface{}) {
	if Enabled(WarnLevel) {
		defaultLogger.entry().Warn(fmt.Sprintf(format, args...))
	}
}

func Error(format string, args ...interface{}) {
	if Enabled(ErrorLevel) {
		defaultLogger.entry().Error(fmt.Sprintf(format, args...))
	}
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if defaultLogger != nil {
		defaultLogger.entry().Log(logrus.FatalLevel, msg)
	} else {
		fmt.Fprintln(os.Stderr, "[FATAL] "+msg)
	}
	os.Exit(1)
}
