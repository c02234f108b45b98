package logger

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config selects level and outputs. Output is "console", "file" or "both";
// file output is rotated by lumberjack.
type Config struct {
	Level      LogLevel
	Output     string
	File       string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// ZapLogger implements the ports.Logger interface on zap.
type ZapLogger struct {
	z *zap.Logger
}

// New builds a logger from cfg. Unknown outputs fall back to the console.
func New(cfg Config) *ZapLogger {
	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core
	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), fileWriter, level))
	}
	if output != "file" || len(cores) == 0 {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(os.Stderr), level))
	}

	return NewFromCore(zapcore.NewTee(cores...))
}

// NewFromCore wraps an existing zap core.
func NewFromCore(core zapcore.Core) *ZapLogger {
	return &ZapLogger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}
}

// toFields converts the optional field map to zap fields in key order.
func toFields(fields []map[string]interface{}, extra ...zap.Field) []zap.Field {
	if len(fields) == 0 || fields[0] == nil {
		return extra
	}
	keys := make([]string, 0, len(fields[0]))
	for k := range fields[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys)+len(extra))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[0][k]))
	}
	return append(out, extra...)
}

// Debug logs a message at Debug level.
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.z.Debug(msg, toFields(fields)...)
}

// Info logs a message at Info level.
func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.z.Info(msg, toFields(fields)...)
}

// Warn logs a message at Warning level.
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.z.Warn(msg, toFields(fields)...)
}

// Error logs an error message at Error level.
func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.z.Error(msg, toFields(fields, zap.Error(err))...)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}
