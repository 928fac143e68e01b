// File: internal/observability/logger_test.go
package observability

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tagsentry/internal/config"
)

// syncBuffer collects console output in memory for assertions.
type syncBuffer struct {
	zaptest.Buffer
}

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "test-service",
	}, buf)

	logger := GetLogger()
	logger.Info("console message", zap.String("key", "value"))
	require.NoError(t, logger.Sync())

	output := buf.String()
	assert.Contains(t, output, "INFO", "output should contain the log level")
	assert.Contains(t, output, "console message")
	assert.Contains(t, output, "test-service.", "service name prefixes entries")
}

func TestInitializeHonorsLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "warn",
		Format:      "console",
		ServiceName: "test-service",
	}, buf)

	logger := GetLogger()
	logger.Debug("too quiet")
	logger.Info("still too quiet")
	logger.Warn("loud enough")
	require.NoError(t, logger.Sync())

	output := buf.String()
	assert.NotContains(t, output, "too quiet")
	assert.Contains(t, output, "loud enough")
}

func TestInitializeInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "chatty",
		Format:      "console",
		ServiceName: "test-service",
	}, buf)

	logger := GetLogger()
	logger.Debug("suppressed at info")
	logger.Info("visible at info")
	require.NoError(t, logger.Sync())

	output := buf.String()
	assert.NotContains(t, output, "suppressed at info")
	assert.Contains(t, output, "visible at info")
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "first"}, first)
	got := GetLogger()

	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "second"}, second)

	assert.Same(t, got, GetLogger(), "a second Initialize must not replace the logger")
}

func TestInitializeWritesLogFile(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logFile := filepath.Join(t.TempDir(), "run.log")
	Initialize(config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "test-service",
		LogFile:     logFile,
		MaxSize:     1,
	}, &syncBuffer{})

	GetLogger().Info("persisted entry")
	Sync()

	assert.FileExists(t, logFile)
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger, "a fallback logger must always be available")
}

func TestNamedLoggersObserveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Named("tagsentry").Named("matcher")

	logger.Info("Matching completed", zap.Int("events", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "tagsentry.matcher", entries[0].LoggerName)
	assert.Equal(t, int64(3), entries[0].ContextMap()["events"])
}
