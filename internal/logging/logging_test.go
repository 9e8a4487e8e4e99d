package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", false)
	logger.Info("hidden")
	logger.Warn("shown", zap.String("k", "v"))
	_ = logger.Sync()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), `"k": "v"`)
}

func TestDebugFlagWins(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "error", true)
	logger.Debug("probe")
	_ = logger.Sync()

	assert.Contains(t, buf.String(), "probe")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "loud", false)
	logger.Debug("quiet")
	logger.Info("normal")
	_ = logger.Sync()

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "normal")
}
