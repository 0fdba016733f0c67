// Package logging builds the zap logger used across organism.
package logging

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rcliao/organism/internal/config"
)

// New builds a logger writing to stderr. Format "console" selects the
// development encoder; anything else logs JSON. Verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		if cfg.Level != "" {
			return nil, goerr.Wrap(err, "parse log level", goerr.V("level", cfg.Level))
		}
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, goerr.Wrap(err, "build logger")
	}
	return logger, nil
}
