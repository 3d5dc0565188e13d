package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scalpbot/internal/ports"
)

// ZapLogger implements the ports.Logger interface on top of zap's sugared
// logger. Field maps from callers become structured key-value pairs.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// ParseLevel converts a string level to a zap level, defaulting to Info.
func ParseLevel(levelStr string) zapcore.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewZapLogger creates a production logger writing JSON to stderr at the
// given level. The returned close function flushes buffered entries.
func NewZapLogger(level zapcore.Level) (*ZapLogger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = z.Sync() }
	return &ZapLogger{sugar: z.Sugar()}, closeFn, nil
}

// NewDevelopmentLogger creates a console logger for local runs and tests.
func NewDevelopmentLogger() *ZapLogger {
	z, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
	return &ZapLogger{sugar: z.Sugar()}
}

func flatten(err error, fields []map[string]interface{}) []interface{} {
	var kv []interface{}
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			kv = append(kv, k, v)
		}
	}
	return kv
}

// Debug logs a message at Debug level.
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Debugw(msg, flatten(nil, fields)...)
}

// Info logs a message at Info level.
func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Infow(msg, flatten(nil, fields)...)
}

// Warn logs a message at Warning level.
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.sugar.Warnw(msg, flatten(nil, fields)...)
}

// Error logs an error message at Error level.
func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.sugar.Errorw(msg, flatten(err, fields)...)
}

var _ ports.Logger = (*ZapLogger)(nil)
