// Package logger provides structured logging for the live-room helper.
// Entries tagged with a source are mirrored into an in-memory activity log.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus and carries a fixed set of context fields
type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

// Config holds logger configuration
type Config struct {
	Level      string
	Format     string
	OutputFile string
}

// New creates a logger writing to stdout and, when set, OutputFile.
// An unknown level falls back to info.
func New(cfg Config) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(formatter(cfg.Format))

	out, err := output(cfg.OutputFile)
	if err != nil {
		return nil, err
	}
	log.SetOutput(out)

	return &Logger{Logger: log, fields: logrus.Fields{}}, nil
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}
	}
	return &logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		ForceColors:     true,
	}
}

func output(path string) (io.Writer, error) {
	if path == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return io.MultiWriter(os.Stdout, file), nil
}

// with copies the current fields, adds extra and returns the derived logger
func (l *Logger) with(extra logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &Logger{Logger: l.Logger, fields: merged}
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithFields(l.fields)
}

// WithField returns a logger with key set
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(logrus.Fields{key: value})
}

// WithFields returns a logger with every field set
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.with(fields)
}

// WithModule tags entries with the emitting package
func (l *Logger) WithModule(module string) *Logger {
	return l.WithField("module", module)
}

// WithSource returns a logger whose entries land in the activity log
func (l *Logger) WithSource(source string) *Logger {
	return l.WithField(FieldSource, source)
}

func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string) { l.entry().Debug(msg) }
func (l *Logger) Info(msg string)  { l.entry().Info(msg) }
func (l *Logger) Warn(msg string)  { l.entry().Warn(msg) }
func (l *Logger) Error(msg string) { l.entry().Error(msg) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// Success logs at info level with outcome=success, which the activity log
// shows as a success entry
func (l *Logger) Success(msg string) {
	l.WithField(FieldOutcome, OutcomeSuccess).Info(msg)
}

// StealthAction records one humanised input step at debug level
func (l *Logger) StealthAction(action string, details map[string]interface{}) {
	l.with(details).WithField("stealth_action", action).Debug("Stealth action performed")
}

// BrowserAction records a page-level browser operation
func (l *Logger) BrowserAction(action string, url string) {
	l.WithFields(map[string]interface{}{
		"browser_action": action,
		"url":            url,
	}).Info("Browser action")
}

// Attach mirrors entries into the given activity log
func (l *Logger) Attach(activity *ActivityLog) {
	l.Logger.AddHook(activity)
}
