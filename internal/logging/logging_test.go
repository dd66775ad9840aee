package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevelsAndFormats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			logger, err := New(level, format)
			require.NoError(t, err, "level=%s format=%s", level, format)
			assert.NotNil(t, logger)
		}
	}
}

func TestNewDebugEnablesDebug(t *testing.T) {
	logger, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("warn", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New("loud", "console")
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}
