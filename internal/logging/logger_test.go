package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, err := New(config.LogConfig{Level: "debug", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("hello from test")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}
