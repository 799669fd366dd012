// Package diaglog provides structured NDJSON diagnostic logging for the
// recording core. Activated by RECORDCORE_DEBUG_RECORDING=true. When the env
// var is absent, all Log calls are no-ops and no file is created.
package diaglog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// ── Component labels ─────────────────────────────────────────────────────────

const (
	ComponentEngineClient = "engine-ws-client"
	ComponentController   = "session-controller"
	ComponentReconciler   = "reconciler"
	ComponentLifecycle    = "lifecycle"
	ComponentCapability   = "capability"
	ComponentReconnect    = "reconnect-handler"
	ComponentDiagExport   = "diag-export"
	ComponentDaemon       = "recordcore"
)

// ── Event names ──────────────────────────────────────────────────────────────

const (
	EventWSSend             = "ws_send"
	EventWSRecv             = "ws_recv"
	EventWSConnect          = "ws_connect"
	EventWSDisconnect       = "ws_disconnect"
	EventWSReconnectAttempt = "ws_reconnect_attempt"
	EventWSReconnectSuccess = "ws_reconnect_success"
	EventWSReconnectFailed  = "ws_reconnect_failed"

	EventEngineAcquire       = "engine_acquire"
	EventEngineAcquireFailed = "engine_acquire_failed"
	EventEngineRelease       = "engine_release"
	EventForcedStop          = "forced_stop"

	EventCommandIssued   = "command_issued"
	EventCommandRejected = "command_rejected"
	EventDispatchFailed  = "command_dispatch_failed"

	EventStateTransition    = "state_transition"
	EventSignalIgnored      = "signal_ignored"
	EventSignalUnknown      = "signal_unknown"
	EventSignalStale        = "signal_stale"
	EventRecordingOutput    = "recording_output"
	EventEngineError        = "engine_error"
	EventPollTick           = "poll_tick"
	EventCapabilityFallback = "capability_fallback"

	EventDaemonCommand   = "daemon_command"
	EventOutputProcessed = "output_processed"
)

// ── LogEntry ─────────────────────────────────────────────────────────────────

// LogEntry is one structured event record written as a single JSON line.
type LogEntry struct {
	Timestamp string      `json:"ts"`                   // RFC3339Nano
	Component string      `json:"component"`            // see Component* constants
	Event     string      `json:"event"`                // see Event* constants
	SessionID string      `json:"session_id,omitempty"` // current recording session
	Source    string      `json:"source,omitempty"`     // "push" | "poll" | "local"
	Reason    string      `json:"reason,omitempty"`     // machine-readable reason code
	Payload   interface{} `json:"payload,omitempty"`    // redacted before write
}

// ── Logger ───────────────────────────────────────────────────────────────────

// Logger writes LogEntry values to a rolling NDJSON file. When debug mode is
// disabled every Log call is a no-op.
type Logger struct {
	w       io.Writer
	closer  func() error
	mu      sync.Mutex
	enabled bool
}

// DefaultMaxSize is the size at which the log file is rotated.
const DefaultMaxSize = 10 * 1024 * 1024

// New opens (or creates) the NDJSON log file at path. If debug mode is
// disabled, path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return &Logger{enabled: false}, nil
	}
	rw, err := newRollingWriter(path, DefaultMaxSize)
	if err != nil {
		return nil, err
	}
	return &Logger{w: rw, closer: rw.close, enabled: true}, nil
}

// NewWriter returns an enabled logger that writes NDJSON lines to w,
// regardless of RECORDCORE_DEBUG_RECORDING. Close does not close w.
func NewWriter(w io.Writer) *Logger {
	return &Logger{w: w, enabled: true}
}

// Log serialises entry to JSON, appends a newline, and writes to the rolling
// file. Sensitive payload fields are redacted before serialisation.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(data)
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer()
}

// DebugEnvVar switches diagnostic logging on when set to "true".
const DebugEnvVar = "RECORDCORE_DEBUG_RECORDING"

// IsDebugEnabled reports whether RECORDCORE_DEBUG_RECORDING is set to "true".
func IsDebugEnabled() bool {
	return os.Getenv(DebugEnvVar) == "true"
}

// Enabled reports whether Log calls reach a file. Safe on a nil logger.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
