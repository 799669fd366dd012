// Package reconcile merges push-delivered and polled engine signals into one
// ordered stream of session mutations applied on a single owning goroutine.
package reconcile

import (
	"time"

	"github.com/tiroq/recordcore/internal/recording"
)

// Kind says what a Signal carries.
type Kind int

const (
	KindState    Kind = iota // Value is an engine state string
	KindComplete             // Value is the output file path
	KindError                // Value is the error message
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Source says which channel a Signal arrived on.
type Source string

const (
	SourcePush  Source = "push"
	SourcePoll  Source = "poll"
	SourceLocal Source = "local"
)

// Signal is one engine observation. Gen is the generation of the engine
// handle it came from; signals from any other generation are dropped.
//
// Seq, when non-zero, is the Session.Seq the observation was taken against.
// Polled answers carry it: if the session changed while the engine was being
// queried, the answer may predate that change and is dropped.
type Signal struct {
	Kind   Kind
	Value  string
	Source Source
	Gen    uint64
	Seq    uint64
}

// Session is the reconciled view of the single recording session. It is
// owned by the loop goroutine; everyone else sees copies.
type Session struct {
	ID     string
	Gen    uint64
	State  recording.State
	Config recording.RecordingConfig

	// StartedAt is stamped when the session is started and cleared when it
	// leaves the active states.
	StartedAt time.Time

	OutputFilePath      string
	ErrorMessage        string
	LastDurationSeconds int64

	// AwaitingOutput is true from start until the first completion.
	AwaitingOutput bool

	// Seq counts applied changes. It only grows, across handles too.
	Seq uint64
}

// Fresh returns an idle session for handle generation gen that keeps the last
// persisted duration and the change counter.
func (s Session) Fresh(gen uint64) Session {
	return Session{Gen: gen, State: recording.StateIdle, LastDurationSeconds: s.LastDurationSeconds, Seq: s.Seq}
}

// Status derives the public status at now.
func (s Session) Status(now time.Time) recording.RecordingStatus {
	st := recording.RecordingStatus{
		State:               s.State,
		LastDurationSeconds: s.LastDurationSeconds,
		OutputFilePath:      s.OutputFilePath,
		SessionID:           s.ID,
	}
	if s.State == recording.StateRecording || s.State == recording.StateStopping {
		st.RecordingDurationSeconds = elapsedSeconds(s.StartedAt, now)
	}
	if s.State == recording.StateError {
		st.ErrorMessage = s.ErrorMessage
	}
	return st
}

func elapsedSeconds(since, now time.Time) int64 {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return int64(now.Sub(since) / time.Second)
}

// NoticeKind says which observer stream a Notice belongs to.
type NoticeKind int

const (
	NoticeState NoticeKind = iota
	NoticeComplete
	NoticeError
)

// Notice is an observable effect of reconciliation, delivered to observers
// after the session has been updated.
type Notice struct {
	Kind    NoticeKind
	From    recording.State
	State   recording.State
	Path    string
	Message string
}

// StateNotice reports a transition.
func StateNotice(from, to recording.State) Notice {
	return Notice{Kind: NoticeState, From: from, State: to}
}

// ErrorNotice reports an error message.
func ErrorNotice(msg string) Notice {
	return Notice{Kind: NoticeError, Message: msg}
}
