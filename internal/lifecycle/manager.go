// Package lifecycle owns the engine handle: at most one live handle,
// acquired on enable and released on disable.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
	"github.com/tiroq/recordcore/internal/recording"
)

// Guard is told about handle changes by the Manager. The session controller
// implements it so it can attach its listener to a new handle and start
// from a clean Idle session.
type Guard interface {
	// SessionActive reports whether a session is Preparing, Recording or
	// Stopping, in which case Release forces a stop first.
	SessionActive() bool
	HandleAcquired(h engine.Engine, gen uint64)
	HandleReleased(gen uint64)
}

// Manager is the single writer of the engine handle. Everyone else borrows
// it through Handle.
type Manager struct {
	factory engine.Factory

	// opMu serializes Acquire and Release so handle creation never blocks
	// readers of Handle.
	opMu sync.Mutex

	mu     sync.RWMutex
	handle engine.Engine
	gen    uint64
	guard  Guard

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewManager creates a manager that builds handles with factory.
func NewManager(factory engine.Factory) *Manager {
	return &Manager{factory: factory}
}

// SetGuard registers the session guard. Only one guard is kept.
func (m *Manager) SetGuard(g Guard) {
	m.mu.Lock()
	m.guard = g
	m.mu.Unlock()
}

// SetLogger injects a diaglog.Logger. Passing nil disables logging.
func (m *Manager) SetLogger(l *diaglog.Logger) {
	m.loggerMu.Lock()
	m.logger = l
	m.loggerMu.Unlock()
}

func (m *Manager) log(entry diaglog.LogEntry) {
	m.loggerMu.RLock()
	l := m.logger
	m.loggerMu.RUnlock()
	if entry.Component == "" {
		entry.Component = diaglog.ComponentLifecycle
	}
	l.Log(entry)
}

// Handle returns the borrowed handle and its generation. The handle is nil
// when none is held. Callers must not Close it.
func (m *Manager) Handle() (engine.Engine, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle, m.gen
}

// Held reports whether a handle is currently held.
func (m *Manager) Held() bool {
	h, _ := m.Handle()
	return h != nil
}

// Acquire creates the engine handle. It is a no-op when a handle is already
// held. A factory failure leaves no handle behind and returns an error
// wrapping recording.ErrNoEngine.
func (m *Manager) Acquire(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.Held() {
		return nil
	}
	if m.factory == nil {
		return fmt.Errorf("acquire engine: %w: no factory configured", recording.ErrNoEngine)
	}

	h, err := m.factory(ctx)
	if err == nil && h == nil {
		err = fmt.Errorf("factory returned a nil handle")
	}
	if err != nil {
		m.log(diaglog.LogEntry{
			Event:   diaglog.EventEngineAcquireFailed,
			Payload: map[string]interface{}{"error": err.Error()},
		})
		return fmt.Errorf("acquire engine: %w: %w", recording.ErrNoEngine, err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.handle = h
	guard := m.guard
	m.mu.Unlock()

	m.log(diaglog.LogEntry{
		Event:   diaglog.EventEngineAcquire,
		Payload: map[string]interface{}{"generation": gen},
	})

	if guard != nil {
		guard.HandleAcquired(h, gen)
	}
	return nil
}

// Release gives the handle up. It is a no-op when nothing is held. An active
// session gets a forced stop command first; Release does not wait for the
// engine to confirm it. The handle reference is always cleared, even when
// the engine reports errors on the way out; the first such error is returned.
func (m *Manager) Release(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	h, gen, guard := m.handle, m.gen, m.guard
	m.mu.RUnlock()
	if h == nil {
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if guard != nil && guard.SessionActive() {
		err := h.StopRecording(ctx)
		payload := map[string]interface{}{"generation": gen}
		if err != nil {
			payload["error"] = err.Error()
		}
		m.log(diaglog.LogEntry{Event: diaglog.EventForcedStop, Reason: "release", Payload: payload})
		keep(err)
	}
	keep(h.StopService(ctx))
	h.SetListener(nil)

	m.mu.Lock()
	m.handle = nil
	m.mu.Unlock()

	if guard != nil {
		guard.HandleReleased(gen)
	}
	keep(h.Close())

	payload := map[string]interface{}{"generation": gen}
	if firstErr != nil {
		payload["error"] = firstErr.Error()
	}
	m.log(diaglog.LogEntry{Event: diaglog.EventEngineRelease, Payload: payload})

	if firstErr != nil {
		return fmt.Errorf("release engine: %w", firstErr)
	}
	return nil
}
