// Package logger builds the structured logger shared by every pipeline stage.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Logger struct {
	*logrus.Entry
}

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Out    io.Writer
	RunID  string // generated when empty
}

func New(opts Options) (*Logger, error) {
	base := logrus.New()

	switch opts.Format {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return nil, fmt.Errorf("log format must be text or json, got %q", opts.Format)
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)

	switch opts.Level {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	case "", "info":
		base.SetLevel(logrus.InfoLevel)
	default:
		return nil, fmt.Errorf("log level must be debug, info, warn, or error, got %q", opts.Level)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return &Logger{Entry: logrus.NewEntry(base).WithField("run_id", runID)}, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// WithStage returns an entry tagged with the stage index and name.
func (l *Logger) WithStage(index int, name string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"stage":      index,
		"stage_name": name,
	})
}

// WithError standardizes error logging
func (l *Logger) WithError(err error) *logrus.Entry {
	if err == nil {
		return l.Entry
	}
	return l.Entry.WithField("error", err.Error())
}
