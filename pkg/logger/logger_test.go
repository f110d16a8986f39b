package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	testCases := []struct {
		name          string
		level         string
		expectedLevel zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"info", "info", zerolog.InfoLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"warning alias", "WARNING", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"unknown defaults to info", "loud", zerolog.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_ = New(Config{Level: tc.level})
			assert.Equal(t, tc.expectedLevel, zerolog.GlobalLevel())
		})
	}
}

func TestNew_TimestampFormat(t *testing.T) {
	_ = New(Config{Level: "info"})
	assert.Equal(t, "2006-01-02T15:04:05Z07:00", zerolog.TimeFieldFormat)
}

func TestNew_PrettyOutput(t *testing.T) {
	logger := New(Config{Level: "info", Pretty: true})

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Str("driver", "walk_forward").Msg("run started")

	assert.Contains(t, buf.String(), "run started")
}

func TestNew_ErrorLevelFiltersLower(t *testing.T) {
	logger := New(Config{Level: "error"})

	var buf bytes.Buffer
	logger = logger.Output(&buf)

	logger.Info().Msg("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")

	logger.Error().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestSetGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	SetGlobalLogger(l)
	defer SetGlobalLogger(zerolog.Logger{})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	l.Info().Msg("global logger test")
	assert.Contains(t, buf.String(), "global logger test")
}
