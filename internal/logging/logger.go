// Package logging provides the structured zap logger shared by every engine component.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger wraps a zap logger with the field conventions used across the engine.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger builds a logger for the given level and environment.
// Production uses JSON output, everything else the console encoder.
func NewStandardLogger(level, environment string) *StandardLogger {
	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if strings.EqualFold(environment, "production") {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(getZapLevel(level)))
	return &StandardLogger{
		logger: zap.New(core, zap.AddCaller()).With(zap.String("environment", environment)),
	}
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(logger *zap.Logger) *StandardLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandardLogger{logger: logger}
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger returns the underlying zap logger.
func (l *StandardLogger) Logger() *zap.Logger {
	return l.logger
}

// Sync flushes buffered entries.
func (l *StandardLogger) Sync() error {
	return l.logger.Sync()
}

func (l *StandardLogger) WithService(service string) *zap.Logger {
	return l.logger.With(zap.String("service", service))
}

func (l *StandardLogger) WithComponent(component string) *zap.Logger {
	return l.logger.With(zap.String("component", component))
}

func (l *StandardLogger) WithOperation(operation string) *zap.Logger {
	return l.logger.With(zap.String("operation", operation))
}

func (l *StandardLogger) WithSymbol(symbol string) *zap.Logger {
	return l.logger.With(zap.String("symbol", symbol))
}

func (l *StandardLogger) WithRequestID(requestID string) *zap.Logger {
	return l.logger.With(zap.String("request_id", requestID))
}

func (l *StandardLogger) WithError(err error) *zap.Logger {
	return l.logger.With(zap.Error(err))
}

// WithFields attaches arbitrary key/value pairs.
func (l *StandardLogger) WithFields(fields map[string]interface{}) *zap.Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return l.logger.With(zf...)
}

// WithMetrics nests the given values under a "metrics" key.
func (l *StandardLogger) WithMetrics(metrics map[string]interface{}) *zap.Logger {
	return l.logger.With(zap.Any("metrics", metrics))
}

// LogStartup records a service start event.
func (l *StandardLogger) LogStartup(service, version string, port int) {
	l.logger.Info("Service starting",
		zap.String("event", "startup"),
		zap.String("service", service),
		zap.String("version", version),
		zap.Int("port", port),
	)
}

// LogShutdown records a service stop event.
func (l *StandardLogger) LogShutdown(service, reason string) {
	l.logger.Info("Service shutting down",
		zap.String("event", "shutdown"),
		zap.String("service", service),
		zap.String("reason", reason),
	)
}

// LogBusinessEvent records a domain event such as an executed trade or a halt.
func (l *StandardLogger) LogBusinessEvent(eventType string, details map[string]interface{}) {
	fields := []zap.Field{
		zap.String("event", "business_event"),
		zap.String("type", eventType),
	}
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	l.logger.Info("Business event", fields...)
}
