package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Level: "info", Encoding: "xml"})
	assert.Error(t, err)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "profiler.log")
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.Encoding = "json"
	cfg.File.Path = path

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Named("test").Debug("hello", zap.String("node_id", "node1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "node1", entry["node_id"])
	assert.Equal(t, "test", entry["logger"])
}

func TestLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiler.log")
	cfg := DefaultConfig()
	cfg.Level = "warn"
	cfg.File.Path = path

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}
