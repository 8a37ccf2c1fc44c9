package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/colorsRGB/AutomationScripts/internal/config"
)

// setupTestLogger initializes the global logger to write to a buffer for testing.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "chatload",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("Session started.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "Session started.")
		assert.Contains(t, output, "\x1b[32mINFO\x1b[0m")
	})

	t.Run("unknown color leaves level plain", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{
			Level:  "info",
			Format: "console",
			Colors: config.ColorConfig{Warn: "chartreuse"},
		})

		GetLogger().Warn("Chat left open.")
		Sync()

		assert.Contains(t, buf.String(), "\tWARN\t")
		assert.NotContains(t, buf.String(), "\x1b[")
	})

	t.Run("json logger", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})

		GetLogger().Warn("Confirmation timed out.", zap.String("token", "ABCD2345"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "Confirmation timed out.", entry["msg"])
		assert.Equal(t, "ABCD2345", entry["token"])
	})

	t.Run("level filtering", func(t *testing.T) {
		ResetForTest()
		buf := setupTestLogger(config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Info("hidden")
		GetLogger().Error("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("file sink", func(t *testing.T) {
		ResetForTest()
		path := filepath.Join(t.TempDir(), "chatload.log")

		setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		assert.True(t, json.Valid(bytes.TrimSpace(content)), "file sink is always JSON")
	})

	t.Run("only initializes once", func(t *testing.T) {
		ResetForTest()
		buf1 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "First"})
		logger1 := GetLogger()

		buf2 := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "Second"})
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test message")
		Sync()

		output := buf1.String()
		assert.True(t, strings.Contains(output, "First"))
		assert.True(t, strings.Contains(output, "test message"))
		assert.False(t, strings.Contains(output, "Second"))
		assert.Empty(t, buf2.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback when not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the stored logger", func(t *testing.T) {
		ResetForTest()
		setupTestLogger(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})

	t.Run("SetLogger overrides", func(t *testing.T) {
		ResetForTest()
		l := zap.NewNop()
		SetLogger(l)
		assert.Same(t, l, GetLogger())
	})
}

func TestSessionLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SessionLogger(zap.New(core), 7, 2).Info("Attempt failed.")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.EqualValues(t, 7, fields["session"])
	assert.EqualValues(t, 2, fields["attempt"])
}
