// Package logger provides the process-wide structured logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the shared logger instance, configured by InitLogger.
var Log *zap.Logger = zap.NewNop()

// InitLogger configures the shared logger.
// level is one of debug, info, warn, error; format is "json" or "console".
func InitLogger(level, format string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	Log = log
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Log.Sync()
}
