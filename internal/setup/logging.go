package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/searchparty/beacon/internal/setup/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggers builds the main application logger and a quieter database
// logger. Both log to stderr and, when a log directory is configured, to a
// file per logger.
func NewLoggers(cfg *config.Debug) (*zap.Logger, *zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	mainLogger, err := newLogger(cfg.LogDir, "main", level)
	if err != nil {
		return nil, nil, err
	}

	// Database queries only surface at warn and above unless debugging
	dbLevel := level
	if dbLevel < zapcore.WarnLevel && level != zapcore.DebugLevel {
		dbLevel = zapcore.WarnLevel
	}

	dbLogger, err := newLogger(cfg.LogDir, "database", dbLevel)
	if err != nil {
		return nil, nil, err
	}

	return mainLogger, dbLogger, nil
}

// newLogger constructs one zap logger writing to stderr and optionally to a
// log file.
func newLogger(logDir, name string, level zapcore.Level) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)

	if logDir == "" {
		return zap.New(consoleCore), nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(
		filepath.Join(logDir, name+".log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(logFile),
		level,
	)

	return zap.New(zapcore.NewTee(consoleCore, fileCore)), nil
}
