package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToFileOutputPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iris.log")
	l, err := New(Config{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	l.Info("hello")
	require.NoError(t, l.Sync())
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "not-a-level", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestWithContext_AddsCorrelationAndSessionFields(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "req-1")
	ctx = context.WithValue(ctx, SessionIDKey, "sess-1")

	withCtx := l.WithContext(ctx)
	assert.NotSame(t, l, withCtx)
}

func TestWithContext_NoValuesReturnsSameLogger(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestDefault_ReturnsSingletonAcrossCalls(t *testing.T) {
	assert.Same(t, Default(), Default())
}
