package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	gogperr "github.com/YuminosukeSato/gogp/pkg/errors"
)

var (
	mu            sync.RWMutex
	defaultLogger Logger = newZerologLogger(os.Stderr, zerolog.InfoLevel)
)

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the process-wide default logger.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Setup initializes the default logger with the given output and level and
// routes library warnings (pkg/errors.Warn) through it as structured events.
func Setup(w io.Writer, level string) {
	l := newZerologLogger(w, toLevel(level))
	SetLogger(l)
	gogperr.SetZerologWarnFunc(func(warning error) {
		l.Warn("library warning", warning)
	})
}

func toLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("invalid log level: %s", level))
	}
}

// NewTestLogger returns a logger writing to w at debug level. Intended for tests.
func NewTestLogger(w io.Writer) Logger {
	return newZerologLogger(w, zerolog.DebugLevel)
}

// zerologLogger adapts zerolog to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

func newZerologLogger(w io.Writer, level zerolog.Level) *zerologLogger {
	return &zerologLogger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

func (l *zerologLogger) Debug(msg string, fields ...any) { l.log(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { l.log(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { l.log(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { l.log(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (l *zerologLogger) log(ev *zerolog.Event, msg string, fields []any) {
	i := 0
	// An error in the leading position is attached as the event's error so
	// that zerolog marshalers (MarshalZerologObject) are applied.
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			ev = ev.Err(err)
			if obj, ok := err.(zerolog.LogObjectMarshaler); ok {
				ev = ev.Object("error_detail", obj)
			}
			i = 1
		}
	}
	for ; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", fields[i])
		}
		ev = ev.Interface(key, fields[i+1])
	}
	ev.Msg(msg)
}
