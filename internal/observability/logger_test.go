package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fewknow/internal/config"
)

func TestNewLogger_Console(t *testing.T) {
	logger := NewLogger(config.LogConfig{Level: "debug", Output: []string{"console"}})
	require.NotNil(t, logger)
	logger.Debug().Str("ticker", "AAPL").Msg("console logger ready")
}

func TestNewLogger_FileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fewknow.log")
	logger := NewLogger(config.LogConfig{Level: "info", Output: []string{"file"}, File: path})
	require.NotNil(t, logger)
	logger.Info().Msg("file logger ready")

	_, err := os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}

func TestNewLogger_DefaultsToConsole(t *testing.T) {
	logger := NewLogger(config.LogConfig{})
	require.NotNil(t, logger)
}
