package reconcile

import (
	"sync"
	"time"

	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
)

// Publisher receives the session after every applied change, together with
// the notices it produced. It runs on the loop goroutine.
type Publisher func(s Session, notices []Notice)

// Config tunes a Reconciler.
type Config struct {
	InboxSize int              // 0 = DefaultInboxSize
	Now       func() time.Time // nil = time.Now
}

// Reconciler owns the Session. Every mutation, whether it comes from a push
// event, a poll tick or a local command, runs on its Loop.
type Reconciler struct {
	loop    *Loop
	now     func() time.Time
	publish Publisher

	session Session // loop goroutine only

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

// New starts a reconciler with an idle session.
func New(cfg Config, publish Publisher) *Reconciler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if publish == nil {
		publish = func(Session, []Notice) {}
	}
	return &Reconciler{
		loop:    NewLoop(cfg.InboxSize),
		now:     now,
		publish: publish,
		session: Session{Seq: 1},
	}
}

// SetLogger injects a diaglog.Logger. Passing nil disables logging.
func (r *Reconciler) SetLogger(l *diaglog.Logger) {
	r.loggerMu.Lock()
	r.logger = l
	r.loggerMu.Unlock()
}

func (r *Reconciler) log(entry diaglog.LogEntry) {
	r.loggerMu.RLock()
	l := r.logger
	r.loggerMu.RUnlock()
	if entry.Component == "" {
		entry.Component = diaglog.ComponentReconciler
	}
	l.Log(entry)
}

// Post queues sig from any goroutine. It blocks while the inbox is full and
// returns false after Close.
func (r *Reconciler) Post(sig Signal) bool {
	return r.loop.Post(func() { r.apply(sig) })
}

// Send applies sig and waits until it has been reconciled.
func (r *Reconciler) Send(sig Signal) bool {
	return r.loop.Do(func() { r.apply(sig) })
}

// Apply is Send that also returns the session after sig was reconciled and
// what Step made of it.
func (r *Reconciler) Apply(sig Signal) (Session, Outcome, bool) {
	var (
		s       Session
		outcome Outcome
	)
	ok := r.loop.Do(func() {
		outcome = r.apply(sig)
		s = r.session
	})
	return s, outcome, ok
}

// Do runs fn on the loop with the live session and publishes the result with
// the notices fn returns. fn must not block on the engine.
func (r *Reconciler) Do(fn func(s *Session) []Notice) bool {
	return r.loop.Do(func() {
		before := r.session
		notices := fn(&r.session)
		if r.session != before || len(notices) > 0 {
			r.session.Seq = before.Seq + 1
		}
		r.publish(r.session, notices)
	})
}

// Flush waits until everything queued before it has been applied.
func (r *Reconciler) Flush() bool {
	return r.loop.Do(func() {})
}

// Close drains the queue and stops the loop.
func (r *Reconciler) Close() {
	r.loop.Close()
}

// Listener returns an engine.Listener that posts push events tagged with
// handle generation gen. Events from a handle that has since been replaced
// are dropped when reconciled.
func (r *Reconciler) Listener(gen uint64) engine.Listener {
	return &pushListener{r: r, gen: gen}
}

func (r *Reconciler) apply(sig Signal) Outcome {
	prev := r.session
	next, notices, outcome := Step(prev, sig, r.now())
	r.logOutcome(prev, next, sig, outcome)
	if outcome != Applied {
		return outcome
	}
	next.Seq = prev.Seq + 1
	r.session = next
	r.publish(next, notices)
	return outcome
}

func (r *Reconciler) logOutcome(prev, next Session, sig Signal, outcome Outcome) {
	entry := diaglog.LogEntry{SessionID: prev.ID, Source: string(sig.Source)}
	payload := map[string]interface{}{"kind": sig.Kind.String(), "value": sig.Value}

	switch outcome {
	case Stale:
		entry.Event = diaglog.EventSignalStale
		payload["signal_gen"] = sig.Gen
		payload["current_gen"] = prev.Gen
		if sig.Seq != 0 {
			payload["signal_seq"] = sig.Seq
			payload["current_seq"] = prev.Seq
		}
	case Unknown:
		entry.Event = diaglog.EventSignalUnknown
	case Duplicate, Ignored:
		entry.Event = diaglog.EventSignalIgnored
		entry.Reason = outcome.String()
		payload["state"] = prev.State.String()
	case Applied:
		if next.State != prev.State {
			r.log(diaglog.LogEntry{
				Event:     diaglog.EventStateTransition,
				SessionID: prev.ID,
				Source:    string(sig.Source),
				Payload:   map[string]interface{}{"from": prev.State.String(), "to": next.State.String()},
			})
		}
		switch sig.Kind {
		case KindComplete:
			entry.Event = diaglog.EventRecordingOutput
			payload = map[string]interface{}{
				"path":             next.OutputFilePath,
				"duration_seconds": next.LastDurationSeconds,
			}
		case KindError:
			entry.Event = diaglog.EventEngineError
			payload = map[string]interface{}{"message": sig.Value, "state": next.State.String()}
		default:
			return
		}
	}
	entry.Payload = payload
	r.log(entry)
}

type pushListener struct {
	r   *Reconciler
	gen uint64
}

func (p *pushListener) OnStateChanged(state string) {
	p.r.Post(Signal{Kind: KindState, Value: state, Source: SourcePush, Gen: p.gen})
}

func (p *pushListener) OnComplete(path string) {
	p.r.Post(Signal{Kind: KindComplete, Value: path, Source: SourcePush, Gen: p.gen})
}

func (p *pushListener) OnError(message string) {
	p.r.Post(Signal{Kind: KindError, Value: message, Source: SourcePush, Gen: p.gen})
}
