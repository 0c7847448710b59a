package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beetslabs/poolsync/pkg/utils"
)

// New builds the process logger from LOG_LEVEL and LOG_ENCODING. Defaults to
// info-level JSON on stdout; unknown levels fall back to info.
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = utils.Env("LOG_ENCODING", "json")
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var level zapcore.Level
	if err := level.Set(utils.Env("LOG_LEVEL", "info")); err != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Development = level == zapcore.DebugLevel

	return cfg.Build()
}
