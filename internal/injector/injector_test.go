package injector

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/universe/internal/armory"
	"github.com/zeusync/universe/internal/core/loader"
	"github.com/zeusync/universe/internal/core/observability/log"
	"github.com/zeusync/universe/internal/core/observability/tracing"
)

func TestInitializeApp(t *testing.T) {
	var logs bytes.Buffer
	cfg := Config{
		Settings:  loader.DefaultSettings(),
		LoadOrder: armory.LoadOrder(),
		LogLevel:  "info",
		LogOutput: &logs,
		Tracing:   tracing.DefaultConfig(),
	}

	app, cleanup, err := InitializeApp(cfg, armory.Source(armory.DefaultContent()))
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, app.Tracing)
	assert.Equal(t, log.LevelInfo, app.Log.GetLevel())

	u, err := app.Loader.Initialize(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, app.Loader.Failures())
	assert.True(t, u.Archetypes.Len() > 0)
	assert.Contains(t, logs.String(), `"msg":"universe sealed"`)
}

func TestProvideTracingRejectsUnknownExporter(t *testing.T) {
	cfg := Config{Tracing: tracing.DefaultConfig()}
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "carrier-pigeon"

	_, _, err := ProvideTracing(cfg)
	assert.Error(t, err)
}

func TestProvideLoggerConsole(t *testing.T) {
	l := ProvideLogger(Config{LogLevel: "error"})
	assert.Equal(t, log.LevelError, l.GetLevel())
}
