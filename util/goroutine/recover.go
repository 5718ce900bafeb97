package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// StackTraceBufferSize is the buffer size for stack trace collection.
const StackTraceBufferSize = 4096

// Recover recovers from panics in goroutines and logs them. Deferred at
// the top of every long-lived goroutine so one bad task cannot take the
// process down.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		LogPanic(name, r, logger)
	}
}

// LogPanic records an already-recovered panic with its stack trace. If
// logger is nil it falls back to stderr so the panic is never silent.
func LogPanic(name string, panicValue interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", panicValue,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, panicValue, string(buf[:n]))
}
