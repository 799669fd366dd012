package testutil

import (
	"bytes"
	"io"
	"log"
	"strings"
	"sync"
)

// LogCapture redirects one or more loggers into a shared buffer.
type LogCapture struct {
	buf      bytes.Buffer
	mu       sync.Mutex
	loggers  []*log.Logger
	original []io.Writer
}

// NewLogCapture captures the given loggers, or the standard logger when none
// are passed. Call Stop to restore their writers.
func NewLogCapture(loggers ...*log.Logger) *LogCapture {
	if len(loggers) == 0 {
		loggers = []*log.Logger{log.Default()}
	}
	lc := &LogCapture{loggers: loggers}
	for _, l := range loggers {
		lc.original = append(lc.original, l.Writer())
		l.SetOutput(lc)
	}
	return lc
}

// Write implements io.Writer so several loggers can share the buffer.
func (lc *LogCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.Write(p)
}

// Stop restores the original writers.
func (lc *LogCapture) Stop() {
	for i, l := range lc.loggers {
		l.SetOutput(lc.original[i])
	}
}

// String returns all captured log output
func (lc *LogCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.buf.String()
}

// Contains checks if the log output contains the given substring
func (lc *LogCapture) Contains(substr string) bool {
	return strings.Contains(lc.String(), substr)
}

// Count returns the number of times a substring appears in the log
func (lc *LogCapture) Count(substr string) int {
	return strings.Count(lc.String(), substr)
}

// Lines returns all captured log lines
func (lc *LogCapture) Lines() []string {
	content := strings.TrimSpace(lc.String())
	if content == "" {
		return []string{}
	}
	return strings.Split(content, "\n")
}
