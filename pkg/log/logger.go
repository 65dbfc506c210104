package log

import (
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// First line of a stack dump is "goroutine 123 [running]:", 32 bytes covers it.
	minStackBufSize = 32
	// Shortest dump that can still carry an id.
	minStackTraceLen = 12
	// len("goroutine ").
	goroutinePrefixLen = 10
)

var (
	Logger        zerolog.Logger
	goroutinePool sync.Pool
)

func init() {
	goroutinePool.New = func() interface{} {
		return make([]byte, minStackBufSize)
	}

	Logger = newLogger(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}, zerolog.InfoLevel)
	log.Logger = Logger
}

// goroutineID parses the current goroutine id out of a truncated stack dump.
func goroutineID() string {
	buf, ok := goroutinePool.Get().([]byte)
	if !ok {
		return "unknown"
	}
	defer goroutinePool.Put(buf) //nolint:staticcheck // buf is a slice, this is the correct usage

	stackLen := runtime.Stack(buf, false)
	if stackLen < minStackTraceLen || goroutinePrefixLen >= stackLen {
		return "unknown"
	}

	idx := goroutinePrefixLen
	for idx < stackLen && buf[idx] >= '0' && buf[idx] <= '9' {
		idx++
	}
	if idx == goroutinePrefixLen {
		return "unknown"
	}
	return string(buf[goroutinePrefixLen:idx])
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger().
		Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			e.Str("goid", goroutineID())
		}))
}

// Info logs an info message with goroutine ID.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Error logs an error message with goroutine ID.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Warn logs a warning message with goroutine ID.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Debug logs a debug message with goroutine ID.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Fatal logs a fatal message with goroutine ID and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// SetDebugMode switches the logger to debug level.
func SetDebugMode() {
	Logger = Logger.Level(zerolog.DebugLevel)
	log.Logger = Logger
}

// SetLevel switches the logger to the named level ("debug", "info", "warn", ...).
// Unknown names leave the current level untouched and return false.
func SetLevel(name string) bool {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return false
	}
	Logger = Logger.Level(level)
	log.Logger = Logger
	return true
}

// SetJSONOutput replaces the console writer with plain JSON lines on w,
// keeping the current level.
func SetJSONOutput(w io.Writer) {
	Logger = newLogger(w, Logger.GetLevel())
	log.Logger = Logger
}

// RetryLogger adapts the package logger to retryablehttp.LeveledLogger.
type RetryLogger struct{}

func (RetryLogger) Error(msg string, keysAndValues ...interface{}) {
	withFields(Logger.Error(), keysAndValues).Msg(msg)
}

func (RetryLogger) Info(msg string, keysAndValues ...interface{}) {
	withFields(Logger.Info(), keysAndValues).Msg(msg)
}

// Debug and Warn are demoted one level; retryablehttp is chatty.
func (RetryLogger) Debug(msg string, keysAndValues ...interface{}) {
	withFields(Logger.Trace(), keysAndValues).Msg(msg)
}

func (RetryLogger) Warn(msg string, keysAndValues ...interface{}) {
	withFields(Logger.Debug(), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}
