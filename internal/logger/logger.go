// Package logger provides the structured logging surface used across the
// engine: Info/Success/Warn/Error/Banner/Section/Stats, each tagged with
// a short subsystem name, backed by logrus so every line carries
// structured fields instead of being a formatted string.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a configured *logrus.Logger. Constructed once at startup
// and passed explicitly to every component that logs (no package globals).
type Logger struct {
	l *logrus.Logger
}

// New builds a Logger writing logrus text lines (key=value fields, full
// timestamps) to stderr at the given level
// ("debug", "info", "warn", "error"). An unparseable level falls back to info.
func New(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &Logger{l: l}
}

// Info logs an informational message tagged with a subsystem.
func (lg *Logger) Info(tag, msg string, fields ...logrus.Fields) {
	lg.entry(tag, fields).Info(msg)
}

// Success logs a successful operation.
func (lg *Logger) Success(tag, msg string, fields ...logrus.Fields) {
	lg.entry(tag, fields).WithField("outcome", "success").Info(msg)
}

// Warn logs a recoverable problem.
func (lg *Logger) Warn(tag, msg string, fields ...logrus.Fields) {
	lg.entry(tag, fields).Warn(msg)
}

// Error logs an unrecoverable-for-this-operation problem. Stack traces
// never go into this message body, only the message and fields.
func (lg *Logger) Error(tag, msg string, fields ...logrus.Fields) {
	lg.entry(tag, fields).Error(msg)
}

// Banner logs the startup banner; version may be empty.
func (lg *Logger) Banner(version string) {
	if version == "" {
		version = "dev"
	}
	lg.l.WithField("version", version).Info("flowcast forecasting engine starting")
}

// Section logs a section header, used to separate phases of long CLI output.
func (lg *Logger) Section(name string) {
	lg.l.WithField("section", name).Info("---")
}

// Stats logs a single named numeric stat.
func (lg *Logger) Stats(key string, value any) {
	lg.l.WithField(key, value).Info("stat")
}

func (lg *Logger) entry(tag string, fields []logrus.Fields) *logrus.Entry {
	e := lg.l.WithField("tag", tag)
	for _, f := range fields {
		e = e.WithFields(f)
	}
	return e
}
