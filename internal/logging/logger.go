// Package logging provides structured logging for appdeck.
//
// The package-level functions log through a process-wide logger backed by
// zap. Context is passed as a flat map and encoded as JSON fields.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger behind the appdeck logging API.
type Logger struct {
	z *zap.Logger
}

var (
	global *Logger
	mu     sync.Mutex
)

// Init initializes the global logger writing JSON to out at the given
// minimum level. Calling Init again replaces the global logger; the sync
// test fixtures rely on that.
func Init(out io.Writer, minLevel zapcore.Level) {
	mu.Lock()
	defer mu.Unlock()
	global = newLogger(out, minLevel)
}

// Get returns the global logger, initializing a default one if needed.
func Get() *Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = newLogger(os.Stdout, zapcore.InfoLevel)
	}
	return global
}

func newLogger(out io.Writer, minLevel zapcore.Level) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(out),
		minLevel,
	)
	return &Logger{z: zap.New(core)}
}

// fields converts context maps to zap fields.
func fields(err error, context []map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, 8)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for _, c := range context {
		for k, v := range c {
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.z.Debug(message, fields(nil, context)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.z.Info(message, fields(nil, context)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.z.Warn(message, fields(nil, context)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	l.z.Error(message, fields(err, context)...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Convenience functions using the global logger.

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

// ErrorWithCode logs an error message tagged with an application error code.
func ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	ctx := map[string]interface{}{"error_code": code}
	Get().Error(message, err, append(context, ctx)...)
}
