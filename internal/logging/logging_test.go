package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level       string
		development bool
		enabled     zap.AtomicLevel
	}{
		{level: "debug", development: true, enabled: zap.NewAtomicLevelAt(zap.DebugLevel)},
		{level: "info", enabled: zap.NewAtomicLevelAt(zap.InfoLevel)},
		{level: "warn", enabled: zap.NewAtomicLevelAt(zap.WarnLevel)},
		{level: "error", enabled: zap.NewAtomicLevelAt(zap.ErrorLevel)},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(tt.level, tt.development)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.enabled.Level()))
			if tt.enabled.Level() > zap.DebugLevel {
				assert.False(t, log.Core().Enabled(tt.enabled.Level()-1))
			}
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud", false)
	require.Error(t, err)
}
