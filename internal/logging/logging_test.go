package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewWithOutput(&bytes.Buffer{}, true, false).GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewWithOutput(&bytes.Buffer{}, false, false).GetLevel())
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, false, true)
	logger.WithField("layers", 4).Info("decomposed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "decomposed", entry["msg"])
	assert.Equal(t, float64(4), entry["layers"])
	assert.Equal(t, "info", entry["level"])
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, true, false)
	logger.Debug("strip done")
	assert.Contains(t, buf.String(), "Debug logging enabled")
	assert.Contains(t, buf.String(), "strip done")
}
