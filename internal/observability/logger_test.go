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

	"github.com/xkilldash9x/cookiekeeper/internal/config"
)

// -- Test Helper Functions --

// initToBuffer initializes the global logger with console output captured in a buffer.
func initToBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "cookiekeeper",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("orchestrator").Info("Refresh run finished.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
		assert.Contains(t, output, "cookiekeeper.orchestrator.")
		assert.Contains(t, output, "Refresh run finished.")
	})

	t.Run("should fall back to default colors", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "console"})
		GetLogger().Warn("Warm-up page failed.")
		Sync()
		assert.Contains(t, buf.String(), colorYellow+"WARN"+colorReset)
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "cookiekeeper"})
		GetLogger().Warn("Restart failed.", zap.String("unit", "djvlad"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "Log output should be valid JSON")
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "cookiekeeper", entry["logger"])
		assert.Equal(t, "Restart failed.", entry["msg"])
		assert.Equal(t, "djvlad", entry["unit"])
	})

	t.Run("should respect the level", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("should write json run log to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "cookiekeeper.log")
		initToBuffer(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		assert.Equal(t, path, LogFile())

		GetLogger().Error("Refresh run failed.", zap.String("stage", "authenticate"))
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		line := strings.TrimSpace(string(content))
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "file log must be JSON even for console format")
		assert.Equal(t, "authenticate", entry["stage"])
	})

	t.Run("should only initialize once", func(t *testing.T) {
		buf := initToBuffer(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		logger1 := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		logger2 := GetLogger()

		assert.Equal(t, logger1, logger2)
		logger2.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
		assert.Empty(t, LogFile())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		initToBuffer(t, config.LoggerConfig{Level: "info"})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}
