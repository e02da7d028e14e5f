package log

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelSilent,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestFieldsReachZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).Named("loader").With(String("universe", "u1"))

	l.Info("type failed",
		Type("type", reflect.TypeFor[*Logger]()),
		Type("missing", nil),
		Int("round", 3),
		Bool("runtime", true),
		Strings("modules", []string{"a", "b"}),
		Error(errors.New("boom")),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "loader", e.LoggerName)
	assert.Equal(t, zapcore.InfoLevel, e.Level)

	ctx := e.ContextMap()
	assert.Equal(t, "u1", ctx["universe"])
	assert.Equal(t, "*log.Logger", ctx["type"])
	assert.Equal(t, "<nil>", ctx["missing"])
	assert.Equal(t, int64(3), ctx["round"])
	assert.Equal(t, true, ctx["runtime"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))

	l.SetLevel(LevelWarn)
	assert.Equal(t, LevelWarn, l.GetLevel())
	l.Info("dropped")
	l.Warn("kept")
	l.Log(LevelSilent, "never")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Error("nothing")
	assert.NotPanics(t, func() { _ = l.With(String("k", "v")).Named("x") })
}

func TestNewWriterEncodesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf)
	l.Debug("hidden")
	l.Info("universe sealed", Int("failures", 0))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"universe sealed"`)
	assert.Contains(t, out, `"failures":0`)
}
