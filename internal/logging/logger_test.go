package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/msageha/phasegate/internal/model"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink(model.LoggingConfig{Level: "info", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("phase queued", zap.String("phase_id", "PH-A"))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "phase queued", rec["msg"])
	assert.Equal(t, "PH-A", rec["phase_id"])
	assert.Contains(t, rec, "ts")
}

func TestNewWithSink_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithSink(model.LoggingConfig{Level: "debug", Format: "console"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("loaded", zap.Int("specs", 3))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "loaded")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(model.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
