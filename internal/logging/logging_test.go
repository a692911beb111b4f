package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormatWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug", "json")
	require.NoError(t, err)

	log.WithField("method", "text.get").Debug("rpc call")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "text.get", entry["method"])
	assert.Equal(t, "rpc call", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
}

func TestLevelFiltersEntries(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "warn", "text")
	require.NoError(t, err)

	log.Info("hidden")
	assert.Zero(t, buf.Len())
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, err := New("loud", "text")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}
