// Package session is the public command surface of the recording core: the
// session state machine, its observers and the poll tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiroq/recordcore/internal/capability"
	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
	"github.com/tiroq/recordcore/internal/lifecycle"
	"github.com/tiroq/recordcore/internal/recording"
	"github.com/tiroq/recordcore/internal/reconcile"
)

// Options tunes a Controller. The zero value is usable.
type Options struct {
	InboxSize    int              // reconciler inbox, 0 = reconcile.DefaultInboxSize
	Now          func() time.Time // nil = time.Now
	NewSessionID func() string    // nil = uuid.NewString
	Logger       *diaglog.Logger
}

// Controller drives recording sessions on the engine held by a
// lifecycle.Manager.
//
// Observers run on the controller's owning goroutine after each reconciled
// change. They may call GetStatus, Config and IsSupported but must not call any other
// Controller method synchronously, or they deadlock the loop.
type Controller struct {
	manager  *lifecycle.Manager
	resolver *capability.Resolver
	rec      *reconcile.Reconciler
	now      func() time.Time
	newID    func() string

	// snapshot is the last published session, read by GetStatus.
	snapMu   sync.RWMutex
	snapshot reconcile.Session

	obsMu          sync.RWMutex
	stateObservers []func(recording.State)
	doneObservers  []func(path string)
	errObservers   []func(message string)

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// NewController creates a controller over manager and resolver and registers
// it as the manager's guard. A nil resolver gets one reading from manager.
func NewController(manager *lifecycle.Manager, resolver *capability.Resolver, opts Options) *Controller {
	c := &Controller{
		manager:  manager,
		resolver: resolver,
		now:      opts.Now,
		newID:    opts.NewSessionID,
		logger:   opts.Logger,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.resolver == nil {
		c.resolver = capability.NewResolver(manager)
	}

	c.rec = reconcile.New(reconcile.Config{InboxSize: opts.InboxSize, Now: c.now}, c.publish)
	c.rec.SetLogger(opts.Logger)

	if h, gen := manager.Handle(); h != nil {
		c.HandleAcquired(h, gen)
	}
	manager.SetGuard(c)
	return c
}

// SetLogger injects a diaglog.Logger. Passing nil disables logging.
func (c *Controller) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
	c.rec.SetLogger(l)
}

func (c *Controller) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if entry.Component == "" {
		entry.Component = diaglog.ComponentController
	}
	l.Log(entry)
}

// Close stops the owning goroutine. It does not release the engine handle.
func (c *Controller) Close() {
	c.rec.Close()
}

// ── lifecycle.Guard ──────────────────────────────────────────────────────────

// SessionActive reports whether a session is Preparing, Recording or Stopping.
func (c *Controller) SessionActive() bool {
	return c.session().State.Active()
}

// HandleAcquired starts a clean Idle session bound to the new handle and
// attaches the push listener. Nothing of the previous handle's sessions
// carries over.
func (c *Controller) HandleAcquired(h engine.Engine, gen uint64) {
	c.rec.Do(func(s *reconcile.Session) []reconcile.Notice {
		prev := s.State
		*s = s.Fresh(gen)
		s.LastDurationSeconds = 0
		return transitionNotices(prev, s.State)
	})
	h.SetListener(c.rec.Listener(gen))
}

// HandleReleased drops the session of the released handle. Late events from
// that handle no longer match the session's generation.
func (c *Controller) HandleReleased(gen uint64) {
	c.rec.Do(func(s *reconcile.Session) []reconcile.Notice {
		if s.Gen != gen {
			return nil
		}
		prev := s.State
		*s = s.Fresh(0)
		return transitionNotices(prev, s.State)
	})
}

func transitionNotices(from, to recording.State) []reconcile.Notice {
	if from == to {
		return nil
	}
	return []reconcile.Notice{reconcile.StateNotice(from, to)}
}

// ── Observers ────────────────────────────────────────────────────────────────

// OnStateChanged registers fn for every reconciled state transition.
func (c *Controller) OnStateChanged(fn func(recording.State)) {
	c.obsMu.Lock()
	c.stateObservers = append(c.stateObservers, fn)
	c.obsMu.Unlock()
}

// OnComplete registers fn for every reconciled completion.
func (c *Controller) OnComplete(fn func(path string)) {
	c.obsMu.Lock()
	c.doneObservers = append(c.doneObservers, fn)
	c.obsMu.Unlock()
}

// OnError registers fn for engine errors, dispatch failures and rejected
// commands.
func (c *Controller) OnError(fn func(message string)) {
	c.obsMu.Lock()
	c.errObservers = append(c.errObservers, fn)
	c.obsMu.Unlock()
}

// publish runs on the loop goroutine.
func (c *Controller) publish(s reconcile.Session, notices []reconcile.Notice) {
	c.snapMu.Lock()
	c.snapshot = s
	c.snapMu.Unlock()

	if len(notices) == 0 {
		return
	}
	c.obsMu.RLock()
	stateObs := append([]func(recording.State){}, c.stateObservers...)
	doneObs := append([]func(string){}, c.doneObservers...)
	errObs := append([]func(string){}, c.errObservers...)
	c.obsMu.RUnlock()

	for _, n := range notices {
		switch n.Kind {
		case reconcile.NoticeState:
			for _, fn := range stateObs {
				fn(n.State)
			}
		case reconcile.NoticeComplete:
			for _, fn := range doneObs {
				fn(n.Path)
			}
		case reconcile.NoticeError:
			for _, fn := range errObs {
				fn(n.Message)
			}
		}
	}
}

func (c *Controller) session() reconcile.Session {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapshot
}

// ── Commands ─────────────────────────────────────────────────────────────────

// StartRecording starts a session with cfg. It returns true once the start
// command has been issued; the engine's progress arrives later.
func (c *Controller) StartRecording(cfg recording.RecordingConfig) bool {
	return c.Start(cfg) == nil
}

// StartDefault starts a session with the Default preset.
func (c *Controller) StartDefault() bool {
	return c.StartRecording(capability.Default())
}

// Start is StartRecording with the reason for a false result. Precondition
// failures wrap recording.ErrNoEngine, recording.ErrInvalidConfig or
// recording.ErrInvalidTransition and leave the state alone. A failed issue
// wraps recording.ErrDispatch and moves the session to Error.
func (c *Controller) Start(cfg recording.RecordingConfig) error {
	h, gen := c.manager.Handle()
	if h == nil {
		return c.reject("start", recording.ErrNoEngine)
	}
	if err := cfg.Validate(); err != nil {
		return c.reject("start", err)
	}

	var (
		id       string
		stateErr error
	)
	ok := c.rec.Do(func(s *reconcile.Session) []reconcile.Notice {
		if s.Gen != gen {
			stateErr = fmt.Errorf("%w: engine handle changed", recording.ErrNoEngine)
			return nil
		}
		if s.State != recording.StateIdle {
			stateErr = fmt.Errorf("%w: cannot start while %s", recording.ErrInvalidTransition, s.State)
			return nil
		}
		prev := s.State
		*s = reconcile.Session{
			ID:                  c.newID(),
			Gen:                 gen,
			State:               recording.StatePreparing,
			Config:              cfg,
			StartedAt:           c.now(),
			LastDurationSeconds: s.LastDurationSeconds,
			AwaitingOutput:      true,
		}
		id = s.ID
		return transitionNotices(prev, s.State)
	})
	if !ok {
		return c.reject("start", errClosed)
	}
	if stateErr != nil {
		return c.reject("start", stateErr)
	}

	c.log(diaglog.LogEntry{
		Event:     diaglog.EventCommandIssued,
		SessionID: id,
		Source:    string(reconcile.SourceLocal),
		Payload: map[string]interface{}{
			"command":    "start",
			"bitrate":    cfg.VideoBitrate,
			"frame_rate": cfg.VideoFrameRate,
			"format":     cfg.VideoFormat,
			"width":      cfg.VideoWidth,
			"height":     cfg.VideoHeight,
		},
	})
	if err := h.StartRecording(context.Background(), engine.NewStartCommand(cfg)); err != nil {
		return c.dispatchFailed("start", id, gen, err)
	}
	return nil
}

// StopRecording stops the recording session. It returns true once the stop
// command has been issued.
func (c *Controller) StopRecording() bool {
	return c.Stop() == nil
}

// Stop is StopRecording with the reason for a false result. Only a Recording
// session can be stopped; cancelling while Preparing is not supported.
func (c *Controller) Stop() error {
	h, gen := c.manager.Handle()
	if h == nil {
		return c.reject("stop", recording.ErrNoEngine)
	}

	var (
		id       string
		stateErr error
	)
	ok := c.rec.Do(func(s *reconcile.Session) []reconcile.Notice {
		if s.Gen != gen {
			stateErr = fmt.Errorf("%w: engine handle changed", recording.ErrNoEngine)
			return nil
		}
		if s.State != recording.StateRecording {
			stateErr = fmt.Errorf("%w: cannot stop while %s", recording.ErrInvalidTransition, s.State)
			return nil
		}
		id = s.ID
		s.State = recording.StateStopping
		return transitionNotices(recording.StateRecording, recording.StateStopping)
	})
	if !ok {
		return c.reject("stop", errClosed)
	}
	if stateErr != nil {
		return c.reject("stop", stateErr)
	}

	c.log(diaglog.LogEntry{
		Event:     diaglog.EventCommandIssued,
		SessionID: id,
		Source:    string(reconcile.SourceLocal),
		Payload:   map[string]interface{}{"command": "stop"},
	})
	if err := h.StopRecording(context.Background()); err != nil {
		return c.dispatchFailed("stop", id, gen, err)
	}
	return nil
}

// Reset returns an Error session to Idle. It is a no-op from Idle and
// rejected while a session is active.
func (c *Controller) Reset() bool {
	var stateErr error
	ok := c.rec.Do(func(s *reconcile.Session) []reconcile.Notice {
		switch s.State {
		case recording.StateIdle:
			return nil
		case recording.StateError:
			*s = s.Fresh(s.Gen)
			return transitionNotices(recording.StateError, recording.StateIdle)
		default:
			stateErr = fmt.Errorf("%w: cannot reset while %s", recording.ErrInvalidTransition, s.State)
			return nil
		}
	})
	if !ok {
		stateErr = errClosed
	}
	if stateErr != nil {
		_ = c.reject("reset", stateErr)
		return false
	}
	return true
}

var errClosed = errors.New("controller closed")

// reject reports a local precondition failure to the error observers.
func (c *Controller) reject(command string, err error) error {
	err = fmt.Errorf("%s: %w", command, err)
	c.log(diaglog.LogEntry{
		Event:     diaglog.EventCommandRejected,
		SessionID: c.session().ID,
		Source:    string(reconcile.SourceLocal),
		Payload:   map[string]interface{}{"command": command, "error": err.Error()},
	})
	msg := err.Error()
	c.rec.Do(func(*reconcile.Session) []reconcile.Notice {
		return []reconcile.Notice{reconcile.ErrorNotice(msg)}
	})
	return err
}

// dispatchFailed moves the session to Error after the engine refused to take
// a command.
func (c *Controller) dispatchFailed(command, id string, gen uint64, cause error) error {
	err := fmt.Errorf("%s: %w: %w", command, recording.ErrDispatch, cause)
	c.log(diaglog.LogEntry{
		Event:     diaglog.EventDispatchFailed,
		SessionID: id,
		Source:    string(reconcile.SourceLocal),
		Payload:   map[string]interface{}{"command": command, "error": cause.Error()},
	})
	c.rec.Send(reconcile.Signal{
		Kind:   reconcile.KindError,
		Value:  err.Error(),
		Source: reconcile.SourceLocal,
		Gen:    gen,
	})
	return err
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetStatus derives the status from the last reconciled session. It never
// touches the engine.
func (c *Controller) GetStatus() recording.RecordingStatus {
	return c.session().Status(c.now())
}

// IsSupported reports whether an engine handle is held.
func (c *Controller) IsSupported() bool {
	return c.manager.Held()
}

// Config returns the configuration of the current or last session.
func (c *Controller) Config() recording.RecordingConfig {
	return c.session().Config
}

// UpdateStatus is the poll tick. It asks the engine for its state and, once
// the engine is idle while a started session still awaits its output, for the
// output file. Results go through the same reconciliation as push events and
// are applied before UpdateStatus returns. An answer is dropped when the
// session changed while the engine was being asked.
func (c *Controller) UpdateStatus(ctx context.Context) error {
	h, gen := c.manager.Handle()
	if h == nil {
		return fmt.Errorf("update status: %w", recording.ErrNoEngine)
	}

	asOf := c.session().Seq
	raw, err := h.GetRecordingState(ctx)
	if err != nil {
		c.log(diaglog.LogEntry{
			Event:   diaglog.EventPollTick,
			Source:  string(reconcile.SourcePoll),
			Payload: map[string]interface{}{"error": err.Error()},
		})
		return fmt.Errorf("update status: query state: %w", err)
	}
	c.log(diaglog.LogEntry{
		Event:     diaglog.EventPollTick,
		SessionID: c.session().ID,
		Source:    string(reconcile.SourcePoll),
		Payload:   map[string]interface{}{"state": raw},
	})
	s, outcome, ok := c.rec.Apply(reconcile.Signal{Kind: reconcile.KindState, Value: raw, Source: reconcile.SourcePoll, Gen: gen, Seq: asOf})
	if !ok {
		return fmt.Errorf("update status: %w", errClosed)
	}
	if outcome == reconcile.Stale {
		return nil
	}

	if state, ok := recording.ParseState(raw); !ok || state != recording.StateIdle {
		return nil
	}
	// An idle engine says nothing about a session it may not have picked up
	// yet.
	if !s.AwaitingOutput || s.State == recording.StatePreparing {
		return nil
	}
	path, err := h.GetOutputFilePath(ctx)
	if err != nil {
		return fmt.Errorf("update status: query output: %w", err)
	}
	if path == "" {
		return nil
	}
	c.rec.Send(reconcile.Signal{Kind: reconcile.KindComplete, Value: path, Source: reconcile.SourcePoll, Gen: gen, Seq: s.Seq})
	return nil
}

// Flush waits until every event queued so far has been reconciled.
func (c *Controller) Flush() {
	c.rec.Flush()
}

// WaitForState polls GetStatus until the session reaches want or ctx ends.
// The core never waits on the engine itself; this is for callers and
// harnesses that need to.
func (c *Controller) WaitForState(ctx context.Context, want recording.State) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.GetStatus().State == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s (now %s): %w", want, c.GetStatus().State, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ── Capability delegation ────────────────────────────────────────────────────

// GetAvailableCodecs lists the codecs the engine can encode.
func (c *Controller) GetAvailableCodecs(ctx context.Context) []recording.CodecDescriptor {
	return c.resolver.GetAvailableCodecs(ctx)
}

// GetOptimalResolutions lists the engine's preferred capture sizes.
func (c *Controller) GetOptimalResolutions(ctx context.Context) []recording.ResolutionPreset {
	return c.resolver.GetOptimalResolutions(ctx)
}

// GetAvailableFrameRates lists supported capture frame rates.
func (c *Controller) GetAvailableFrameRates(ctx context.Context) []recording.FrameRatePreset {
	return c.resolver.GetAvailableFrameRates(ctx)
}

// GetRecommendedBitrate applies the bitrate formula.
func (c *Controller) GetRecommendedBitrate(width, height, frameRate int) int {
	return c.resolver.GetRecommendedBitrate(width, height, frameRate)
}

// CreateCustomConfig builds a config from catalog picks.
func (c *Controller) CreateCustomConfig(codec recording.CodecDescriptor, res recording.ResolutionPreset, bitrate, frameRate int) recording.RecordingConfig {
	return capability.BuildCustomConfig(codec, res, bitrate, frameRate)
}
