package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rcliao/organism/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		verbose bool
		level   zapcore.Level
	}{
		{"defaults", config.LoggingConfig{}, false, zapcore.InfoLevel},
		{"warn json", config.LoggingConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel},
		{"console", config.LoggingConfig{Level: "error", Format: "console"}, false, zapcore.ErrorLevel},
		{"verbose wins", config.LoggingConfig{Level: "error"}, true, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, tt.verbose)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.level))
			if tt.level > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.level-1))
			}
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, false)
	require.Error(t, err)
}
