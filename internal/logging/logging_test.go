package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToInfoJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Out: &buf})

	log.Debug().Msg("should be filtered")
	log.Info().Msg("hello")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "not-a-level", Out: &buf})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNew_ConsoleWriterProducesNonJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Console: true, Out: &buf})
	log.Info().Msg("hello")

	var entry map[string]any
	assert.Error(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, buf.String(), "hello")
}
