package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes JSON lines to stdout and to a rotating file.
type Logger struct {
	*logrus.Logger
	file io.Closer
}

// New creates the service logger. Files rotate in dir through lumberjack.
func New(dir, level string) (*Logger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logs folder failed: %w", err)
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "hazard-alert-service.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}

	l := logrus.New()
	l.SetOutput(io.MultiWriter(os.Stdout, rotator))
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	l.SetLevel(lvl)
	return &Logger{Logger: l, file: rotator}, nil
}

// NewWithWriter builds a logger on an arbitrary writer, used by tests and tools.
func NewWithWriter(w io.Writer, level logrus.Level) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	l.SetLevel(level)
	return &Logger{Logger: l}
}

// Discard drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, logrus.PanicLevel)
}

// ForAlert tags entries with the alert id.
func (l *Logger) ForAlert(alertID string) *logrus.Entry {
	return l.WithField("alert_id", alertID)
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
