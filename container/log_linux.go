package container

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the console logger both the supervisor and init use.
// Warnings and up only: the log descriptor is the caller's stderr and this
// process reports failures, not progress.
func NewLogger(ws zapcore.WriteSyncer) *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), ws, zapcore.WarnLevel)
	return zap.New(core)
}
