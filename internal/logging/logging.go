// Package logging builds the zap loggers used across aidigest.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger at the given level. JSON output uses the production
// encoder; otherwise a compact console encoder writes to stderr.
func New(level string, jsonOutput bool) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(ParseLevel(level))

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = lvl
		return cfg.Build()
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeCaller = nil

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		lvl,
	)
	return zap.New(core), nil
}

// ParseLevel maps a level string to a zap level, defaulting to info
func ParseLevel(value string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
