package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(newWith(&buf, "debug", "json"), "web")
	l.Debug().Str("path", "/book/x").Msg("request")

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "web", ev["component"])
	assert.Equal(t, "debug", ev["level"])
	assert.Equal(t, "request", ev["message"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newWith(&buf, "warn", "json")
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newWith(&buf, "loud", "json")
	l.Debug().Msg("dropped")
	l.Info().Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
