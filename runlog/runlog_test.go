package runlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONRespectsLevel(t *testing.T) {
	var logs, output bytes.Buffer
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	logger := New(&logs, &output, FormatJSON, level).With("run_id", "r-1")
	logger.Debugf("hidden %d", 1)
	logger.Infof("uploaded %s", "a.jpg")
	logger.Outputf("%d\n", 42)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "uploaded a.jpg", record["msg"])
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "r-1", record["run_id"])
	assert.Equal(t, "42\n", output.String())

	level.Set(slog.LevelDebug)
	logger.Debugf("visible")
	assert.Contains(t, logs.String(), "visible")
}

func TestTextFormatWithoutTerminalHasNoColour(t *testing.T) {
	var logs bytes.Buffer
	logger := New(&logs, &bytes.Buffer{}, FormatText, slog.LevelDebug)
	logger.Warningf("bucket %s already existed", "images")

	assert.Contains(t, logs.String(), "bucket images already existed")
	assert.NotContains(t, logs.String(), "\x1b[")
}
