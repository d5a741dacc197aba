package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"default info", "", zerolog.InfoLevel},
		{"garbage falls back", "loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewWithWriter(tt.level, "prod", &bytes.Buffer{})
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestJSONOutputOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", "prod", &buf)
	logger.Info().Str("slot_id", "s-1").Msg("reserved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reserved", line["message"])
	assert.Equal(t, "s-1", line["slot_id"])
	assert.Equal(t, "prod", line["env"])
}
