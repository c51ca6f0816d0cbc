package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestLogger_FieldsAndLevel(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core), LevelDebug)

	l.With(String("component", "slab")).Info("block added",
		Uint64("serial", 7), Int("blocks", 2), Bool("fresh", true))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "block added", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "slab", ctx["component"])
	assert.Equal(t, uint64(7), ctx["serial"])
	assert.Equal(t, int64(2), ctx["blocks"])

	l.SetLevel(LevelError)
	assert.Equal(t, LevelError, l.GetLevel())
	l.Log(LevelInfo, "filtered")
	assert.Equal(t, 1, logs.Len())
}

func TestLogger_PanicLogsThenPanics(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core), LevelDebug)

	assert.Panics(t, func() { l.Panic("double free", Uint64("ref", 65)) })
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "double free", logs.All()[0].Message)
}

func TestProvide_FallsBackToNop(t *testing.T) {
	assert.NotNil(t, Provide())
	assert.NotNil(t, OrProvide(nil))
	assert.Panics(t, func() { NewNop().Panic("boom") })
}
