// Package logger provides structured logging for the ACP provider core.
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
	// CorrelationIDKey is the context key under which a correlation id, if any, is stored.
	CorrelationIDKey contextKey = "correlation_id"
	// ConversationKeyKey is the context key under which a conversation key, if any, is stored.
	ConversationKeyKey contextKey = "conversation_key"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	OutputPath string // stdout, stderr, or a file path
}

// Logger wraps zap.Logger with a few domain-specific conveniences.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns a process-wide singleton logger, built from environment
// defaults, for call sites that are not constructed with an injected logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(Config{
			Level:      getEnv("ACPCORE_LOG_LEVEL", "info"),
			Format:     getEnv("ACPCORE_LOG_FORMAT", detectLogFormat()),
			OutputPath: getEnv("ACPCORE_LOG_OUTPUT", "stdout"),
		})
		if err != nil {
			l = &Logger{zap: zap.NewNop()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// detectLogFormat picks json for container/production-like environments and
// text for interactive terminal use.
func detectLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ACPCORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// New builds a Logger from the given configuration.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	sink, _, err := zap.Open(outputPaths(cfg.OutputPath)...)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &Logger{zap: zap.New(core, zap.AddCaller())}, nil
}

func outputPaths(path string) []string {
	switch path {
	case "", "stdout":
		return []string{"stdout"}
	case "stderr":
		return []string{"stderr"}
	default:
		return []string{path}
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithFields returns a derived Logger carrying the given structured fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// WithContext attaches correlation/conversation identifiers found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := make([]zap.Field, 0, 2)
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("correlation_id", v))
	}
	if v, ok := ctx.Value(ConversationKeyKey).(string); ok && v != "" {
		fields = append(fields, zap.String("conversation_key", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

// WithError returns a derived Logger carrying the given error.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zap: l.zap.With(zap.Error(err))}
}

// WithAgentID returns a derived Logger tagged with an agent id.
func (l *Logger) WithAgentID(agentID string) *Logger {
	return l.WithFields(zap.String("agent_id", agentID))
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

// Zap exposes the underlying zap.Logger for libraries that want it directly
// (e.g. the acp-go-sdk's SetLogger, or third-party clients expecting *zap.Logger).
func (l *Logger) Zap() *zap.Logger { return l.zap }
