package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	log *zap.Logger
}

// NewZap builds the production logger. Unknown levels fall back to info so a
// typo in the config degrades noisily instead of silently.
func NewZap(level string) Logger {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return Noop{}
	}
	return &zapLogger{log: log}
}

func (z *zapLogger) Debug(msg string, fields map[string]any) { z.log.Debug(msg, zapFields(fields)...) }
func (z *zapLogger) Info(msg string, fields map[string]any)  { z.log.Info(msg, zapFields(fields)...) }
func (z *zapLogger) Warn(msg string, fields map[string]any)  { z.log.Warn(msg, zapFields(fields)...) }
func (z *zapLogger) Error(msg string, fields map[string]any) { z.log.Error(msg, zapFields(fields)...) }

func zapFields(m map[string]any) []zap.Field {
	out := make([]zap.Field, 0, len(m))
	for k, v := range m {
		out = append(out, zap.Any(k, v))
	}
	return out
}
