package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"worldhost.ai/internal/config"
)

// New builds the process logger. Unknown levels fall back to info; any format
// other than json gets the colored console encoder.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := Config(cfg)
	return zc.Build()
}

func Config(cfg config.LoggingConfig) zap.Config {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zc.EncoderConfig.ConsoleSeparator = "  "
		zc.DisableCaller = true
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc
}
