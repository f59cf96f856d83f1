// Package logger provides structured logging for Iris using go.uber.org/zap.
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	SessionIDKey     contextKey = "session_id"
)

// Config holds the configuration for the logger.
type Config struct {
	Level      string `mapstructure:"level"`      // debug, info, warn, error
	Format     string `mapstructure:"format"`     // json, console
	OutputPath string `mapstructure:"outputPath"` // stdout, stderr, or file path
}

// Logger wraps zap.Logger to provide structured logging with helper methods.
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// Default returns the global default logger, lazily initialized with
// sensible development settings.
func Default() *Logger {
	defaultLoggerOnce.Do(func() {
		var err error
		defaultLogger, err = New(Config{
			Level:      "info",
			Format:     detectLogFormat(),
			OutputPath: "stdout",
		})
		if err != nil {
			zapLogger, _ := zap.NewProduction()
			defaultLogger = &Logger{zap: zapLogger, sugar: zapLogger.Sugar()}
		}
	})
	return defaultLogger
}

// SetDefault overrides the global default logger.
func SetDefault(l *Logger) {
	// Consume the lazy initializer so a later Default() cannot replace l.
	defaultLoggerOnce.Do(func() {})
	defaultLogger = l
}

// New creates a new Logger from the given configuration.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" || cfg.Format == "text" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch cfg.OutputPath {
	case "", "stdout":
		writeSyncer = zapcore.AddSync(os.Stdout)
	case "stderr":
		writeSyncer = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{zap: zapLogger, sugar: zapLogger.Sugar()}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// detectLogFormat favors JSON in containerized/production environments and
// console output everywhere else.
func detectLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("IRIS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// With returns a new Logger with the given fields added.
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.zap.With(fields...)
	return &Logger{zap: z, sugar: z.Sugar()}
}

// WithContext adds the correlation and session id found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var fields []zap.Field
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("correlation_id", v))
	}
	if v, ok := ctx.Value(SessionIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("session_id", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// WithError returns a new Logger with the error field added.
func (l *Logger) WithError(err error) *Logger {
	return l.With(zap.Error(err))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

// Zap returns the underlying zap.Logger for advanced use.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// Sugar returns the underlying zap.SugaredLogger.
func (l *Logger) Sugar() *zap.SugaredLogger { return l.sugar }
