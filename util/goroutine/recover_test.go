package goroutine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("quiet-goroutine", logger)
	}()

	assert.Empty(t, logs.All(), "nothing to log without a panic")
}

func TestRecover_LogsPanicWithStack(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("exploding-goroutine", logger)
		panic("boom")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "exploding-goroutine", fields["goroutine"])
	assert.Equal(t, "boom", fields["panic"])

	stack, ok := fields["stack"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, stack)
	assert.LessOrEqual(t, len(stack), StackTraceBufferSize)
}

func TestRecover_NilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger-goroutine", nil)
		panic("boom")
	})
}

func TestLogPanic_Direct(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	LogPanic("caught-elsewhere", "payload", logger)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "payload", entries[0].ContextMap()["panic"])
}
