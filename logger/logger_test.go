package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, InitLogger(path, "info"))
	Logger.Debug("hidden")
	Logger.Info("visible")
	require.NoError(t, Logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "visible", line["msg"])
	assert.Equal(t, "verifychain", line["service"])
	assert.Contains(t, line, "time")
}

func TestInitLogger_RejectsUnknownLevel(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })
	assert.Error(t, InitLogger("", "loud"))
}
