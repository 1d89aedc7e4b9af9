package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegisshield/compliance-tracker/internal/config"
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Logging.Format {
	case "json":
		zcfg.Encoding = "json"
		zcfg.EncoderConfig = zap.NewProductionEncoderConfig()
	case "console":
		zcfg.Encoding = "console"
	}
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
	), nil
}
