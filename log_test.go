package ppdbg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("file sink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ppdbg.log")
		logger, err := NewLogger(LogConfig{Level: "debug", Format: "json", File: path})
		require.NoError(t, err)
		logger.Debug("hello from test")
		_ = logger.Sync()

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), "hello from test")
	})

	t.Run("level filters file sink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ppdbg.log")
		logger, err := NewLogger(LogConfig{Level: "warn", File: path})
		require.NoError(t, err)
		logger.Info("quiet")
		logger.Warn("loud")
		_ = logger.Sync()

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "quiet")
		assert.Contains(t, string(b), "loud")
	})

	t.Run("atomic level", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ppdbg.log")
		level := zap.NewAtomicLevelAt(zapcore.ErrorLevel)
		logger, err := NewLoggerAt(LogConfig{File: path}, level)
		require.NoError(t, err)
		logger.Info("before")
		level.SetLevel(zapcore.DebugLevel)
		logger.Info("after")
		_ = logger.Sync()

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "before")
		assert.Contains(t, string(b), "after")
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := NewLogger(LogConfig{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := NewLogger(LogConfig{Format: "xml"})
		assert.Error(t, err)
	})
}
