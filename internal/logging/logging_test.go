package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestLogFileName(t *testing.T) {
	assert.Equal(t, "stackrun-2024-01-01.log", LogFileName(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestSetup_WritesJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, closeFn, err := Setup("warn", dir)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("Cleanup warning", zap.String("stack", "emr-test"))
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName(time.Now())))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "info is below the configured level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Cleanup warning", entry["msg"])
	assert.Equal(t, "emr-test", entry["stack"])
	assert.Equal(t, "warn", entry["level"])
}
