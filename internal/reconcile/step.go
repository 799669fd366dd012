package reconcile

import (
	"strings"
	"time"

	"github.com/tiroq/recordcore/internal/recording"
)

// Messages used when the engine gives no text of its own.
const (
	ErrorStateMessage   = "engine reported error state"
	UnknownErrorMessage = "unknown engine error"
)

// Outcome classifies what Step did with a signal.
type Outcome int

const (
	Applied   Outcome = iota // session changed or notices were produced
	Duplicate                // the session already reflects the signal
	Ignored                  // valid signal with no transition from the current state
	Unknown                  // unparseable state string
	Stale                    // signal from another handle generation, or observed before the last change
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Ignored:
		return "not_applicable"
	case Unknown:
		return "unknown"
	case Stale:
		return "stale"
	default:
		return "invalid"
	}
}

// Step applies one signal to s. It is pure: the same session and signal
// always give the same result, and a session that already reflects the
// signal comes back unchanged with no notices.
func Step(s Session, sig Signal, now time.Time) (Session, []Notice, Outcome) {
	if sig.Gen != s.Gen {
		return s, nil, Stale
	}
	if sig.Seq != 0 && sig.Seq != s.Seq {
		return s, nil, Stale
	}
	switch sig.Kind {
	case KindState:
		return stepState(s, sig.Value, now)
	case KindComplete:
		return stepComplete(s, sig.Value, now)
	case KindError:
		return stepError(s, sig.Value, now)
	default:
		return s, nil, Unknown
	}
}

func stepState(s Session, raw string, now time.Time) (Session, []Notice, Outcome) {
	target, ok := recording.ParseState(raw)
	if !ok {
		return s, nil, Unknown
	}
	if target == s.State {
		return s, nil, Duplicate
	}

	switch target {
	case recording.StateRecording:
		if s.State != recording.StatePreparing {
			return s, nil, Ignored
		}
	case recording.StateStopping:
		if s.State != recording.StateRecording {
			return s, nil, Ignored
		}
	case recording.StateIdle:
		// Idle ends a session only once it is stopping, or clears an error.
		// An idle report while Preparing usually predates the start command;
		// a recording that ends on its own finishes through its completion.
		if s.State != recording.StateStopping && s.State != recording.StateError {
			return s, nil, Ignored
		}
	case recording.StateError:
		if !s.State.Active() {
			return s, nil, Ignored
		}
		next, n := transition(s, recording.StateError, now)
		next.ErrorMessage = ErrorStateMessage
		return next, []Notice{n, ErrorNotice(ErrorStateMessage)}, Applied
	default:
		// Preparing is entered only by a local start.
		return s, nil, Ignored
	}

	next, n := transition(s, target, now)
	return next, []Notice{n}, Applied
}

// stepComplete treats completion as authoritative for both the output file
// and the final state, so it may overtake the engine's idle report.
func stepComplete(s Session, path string, now time.Time) (Session, []Notice, Outcome) {
	path = strings.TrimSpace(path)
	if path == "" {
		return s, nil, Ignored
	}
	if !s.AwaitingOutput {
		return s, nil, Duplicate
	}

	var notices []Notice
	if s.State != recording.StateIdle {
		var n Notice
		s, n = transition(s, recording.StateIdle, now)
		notices = append(notices, n)
	}
	s.AwaitingOutput = false
	s.OutputFilePath = path
	notices = append(notices, Notice{Kind: NoticeComplete, Path: path})
	return s, notices, Applied
}

func stepError(s Session, msg string, now time.Time) (Session, []Notice, Outcome) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = UnknownErrorMessage
	}

	switch {
	case s.State.Active():
		next, n := transition(s, recording.StateError, now)
		next.ErrorMessage = msg
		return next, []Notice{n, ErrorNotice(msg)}, Applied
	case s.State == recording.StateError:
		if s.ErrorMessage == msg {
			return s, nil, Duplicate
		}
		s.ErrorMessage = msg
		return s, []Notice{ErrorNotice(msg)}, Applied
	default:
		// Idle: nothing to fail, observers still hear about it.
		return s, []Notice{ErrorNotice(msg)}, Applied
	}
}

// transition moves s to the given state. Leaving Recording or Stopping for a
// terminal state persists the session's duration.
func transition(s Session, to recording.State, now time.Time) (Session, Notice) {
	from := s.State
	if from.Active() && !to.Active() {
		if from == recording.StateRecording || from == recording.StateStopping {
			s.LastDurationSeconds = elapsedSeconds(s.StartedAt, now)
		}
		s.StartedAt = time.Time{}
	}
	if to != recording.StateError {
		s.ErrorMessage = ""
	}
	s.State = to
	return s, StateNotice(from, to)
}
