package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("JSONFormat", func(t *testing.T) {
		log, err := NewLogger("info", "json")
		require.NoError(t, err)
		require.NotNil(t, log)
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("ConsoleFormat", func(t *testing.T) {
		log, err := NewLogger("debug", "console")
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := NewLogger("chatty", "json")
		assert.Error(t, err)
	})
}
