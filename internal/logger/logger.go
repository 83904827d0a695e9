package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures a Logger.
type Options struct {
	Level string
	JSON  bool
	// File, if set, receives log output. With Quiet it is the only destination.
	File  string
	Quiet bool
}

type Logger struct {
	logger *logrus.Logger
	ctx    context.Context
	file   *os.File
}

// New builds a Logger. An empty level falls back to LOG_LEVEL and then info.
func New(ctx context.Context, opts Options) (*Logger, error) {
	l := logrus.New()

	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{PrettyPrint: false})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			PadLevelText:  true,
		})
	}

	out := &Logger{logger: l, ctx: ctx}
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out.file = f
		writers = append(writers, f)
	}
	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}
	return out, nil
}

// Nop returns a Logger that discards everything. Handy in tests.
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{logger: l, ctx: context.Background()}
}

// NewWithWriter returns a text Logger writing to w at debug level.
func NewWithWriter(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return &Logger{logger: l, ctx: context.Background()}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debug logs a debug-level message.
func (l *Logger) Debug(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.DebugLevel, msg, fields...)
}

// Info logs an info-level message.
func (l *Logger) Info(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.InfoLevel, msg, fields...)
}

// Warn logs a warn-level message.
func (l *Logger) Warn(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.WarnLevel, msg, fields...)
}

// Error logs an error-level message.
func (l *Logger) Error(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.ErrorLevel, msg, fields...)
}

// Fatal logs a fatal-level message and exits the application.
func (l *Logger) Fatal(msg string, fields ...logrus.Fields) {
	l.logWithFields(logrus.FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *Logger) logWithFields(level logrus.Level, msg string, fields ...logrus.Fields) {
	entry := l.logger.WithContext(l.ctx)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Log(level, msg)
}
