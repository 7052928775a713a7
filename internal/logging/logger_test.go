package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesComponentToFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(&Config{LogDir: dir, Level: "info"})
	require.NoError(t, err)

	log := logger.Component("conn")
	log.Info().Str("url", "ws://localhost:8000/ws").Msg("Connecting")
	log.Debug().Msg("filtered out")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `"component":"conn"`)
	assert.Contains(t, content, `"app":"astra"`)
	assert.Contains(t, content, "Connecting")
	assert.False(t, strings.Contains(content, "filtered out"))
}

func TestNew_NoSinks(t *testing.T) {
	logger, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	assert.Empty(t, logger.Path())
	assert.NotPanics(t, func() {
		l := logger.Component("core")
		l.Warn().Msg("discarded")
	})
	assert.NoError(t, logger.Close())
}

func TestNew_BadLevelFallsBackToDebug(t *testing.T) {
	logger, err := New(&Config{Level: "loud"})
	require.NoError(t, err)

	assert.Equal(t, "debug", logger.Zerolog().GetLevel().String())
}
