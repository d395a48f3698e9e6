package zaplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("cache hit", "fingerprint", "/attendance?classId=1")
	l.Info("client ready")
	l.Warn("cache write failed", "error", "full")
	l.Error("renewal failed", "renewal", 3)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "cache hit", entries[0].Message)
	assert.Equal(t, "/attendance?classId=1", entries[0].ContextMap()["fingerprint"])

	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.EqualValues(t, 3, entries[3].ContextMap()["renewal"])
}

func TestNewNil(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).Warn("dropped")
	})
}
