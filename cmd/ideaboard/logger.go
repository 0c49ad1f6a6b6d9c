package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildZapLogger writes to stderr only; stdout carries the board output and
// the prompt.
func buildZapLogger(settings Settings) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(settings.LogLevel)
	if err != nil {
		return nil, err
	}

	var config zap.Config

	switch settings.LogEncoding {
	case "json":
		config = zap.NewProductionConfig()
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.LevelKey = "severity"
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		config.Sampling = nil
	default:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableCaller = true
		config.DisableStacktrace = true
	}

	config.Level = level
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.InitialFields = map[string]any{
		"client":   "ideaboard",
		"deviceId": settings.DeviceId,
	}

	return config.Build()
}
