package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestAppLogger_LevelFallback(t *testing.T) {
	l := NewAppLogger(&Config{LogLevel: "nonsense"})
	assert.Equal(t, zapcore.InfoLevel, l.getLoggerLevel())

	l = NewAppLogger(&Config{LogLevel: "debug"})
	assert.Equal(t, zapcore.DebugLevel, l.getLoggerLevel())
}

func TestAppLogger_InitWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "healthstack.log")
	l := NewAppLogger(&Config{LogLevel: "info", File: file, MaxSizeMB: 1})
	l.InitLogger()
	require.NotNil(t, l.Logger())

	l.Infof("mailbox %s paused", "mbox_1")
	child := l.With(zap.String("mailboxId", "mbox_1"))
	child.Warn("still paused")
	assert.NotNil(t, child.Logger())
}
