// Package mlog centralizes zap logger construction, mirroring the
// LogConfig-driven setup this codebase's coremain has always used.
package mlog

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig is the `log:` section of the YAML config.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // debug/info/warn/error, default info
	File  string `yaml:"file" mapstructure:"file"`   // empty means stderr
}

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// L returns the current global logger. It is safe to call before Init;
// the zero-value logger is a no-op, matching pkg/server.ServerOpts'
// nil-Logger-disables-logging contract.
func L() *zap.Logger {
	return global.Load()
}

// Init builds a production zap logger from cfg and installs it as the
// global logger. An empty cfg.File logs to stderr.
func Init(cfg LogConfig) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
	} else {
		zc.OutputPaths = []string{"stderr"}
		zc.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zc.Build()
	if err != nil {
		return err
	}
	global.Store(logger)
	return nil
}
