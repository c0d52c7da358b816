// Package xlog is the module-wide logging sink. It keeps
// kernel/logger.go's module:line-tagged format and io.Writer escape hatch
// (ErrorLog/DebugLog and Touch) but drops the actor/file-rotation
// machinery: a client library logs synchronously from whichever goroutine
// hits the error path, there is no separate logger process to hand a
// message off to.
package xlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects all subsequent log output to w. Tests use this to
// capture or silence logging instead of asserting against os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Errorf logs an error-level line tagged with the caller's file:line.
func Errorf(format string, args ...interface{}) {
	logAt(1, format, args...)
}

// Debugf logs a debug-level line tagged with the caller's file:line.
// Unlike kernel/logger.go's DebugLog there is no package-level verbosity
// switch; callers that want debug logging conditional on a build or option
// flag check it before calling.
func Debugf(format string, args ...interface{}) {
	logAt(1, format, args...)
}

func logAt(skip int, format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		file, line = "???", 0
	} else {
		file = filepath.Base(file)
	}
	msg := fmt.Sprintf(format, args...)
	t := time.Now()

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%s [%s:%d] %s\n", t.Format("2006-01-02 15:04:05"), file, line, msg)
}
