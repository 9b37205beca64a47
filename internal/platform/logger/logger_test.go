// Package logger_test contains tests for the logger package
package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter_Levels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := logger.SetupWithWriter(config.ServerConfig{LogLevel: tt.level}, &buf)

			l.Debug("debug message")
			l.Info("info message", slog.String("job_id", "j1"))

			out := buf.String()
			assert.Equal(t, tt.debugSeen, strings.Contains(out, "debug message"))
			assert.Equal(t, tt.infoSeen, strings.Contains(out, "info message"))
		})
	}
}

func TestSetupWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := logger.SetupWithWriter(config.ServerConfig{LogLevel: "info"}, &buf)

	l.Info("claimed job", slog.String("worker_id", "w1"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "claimed job", record["msg"])
	assert.Equal(t, "w1", record["worker_id"])
	assert.Equal(t, "INFO", record["level"])
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	fallback := logger.Discard()
	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))

	scoped := logger.Discard()
	ctx := logger.WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, logger.FromContextOrDefault(ctx, fallback))
	assert.Same(t, scoped, logger.FromContext(ctx))
	assert.NotNil(t, logger.FromContext(context.Background()))
}
