package recording

import "errors"

var (
	// ErrNoEngine means the engine handle is absent or could not be obtained.
	// Every command fails locally until a handle is acquired.
	ErrNoEngine = errors.New("engine handle unavailable")

	// ErrInvalidTransition rejects a command issued from the wrong state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidConfig rejects a RecordingConfig before anything reaches the engine.
	ErrInvalidConfig = errors.New("invalid recording config")

	// ErrDispatch means issuing a command to the engine failed.
	ErrDispatch = errors.New("command dispatch failed")

	// ErrEngine wraps a failure the engine reported after the fact.
	ErrEngine = errors.New("engine error")

	// ErrUnknownState marks a state string that could not be parsed.
	ErrUnknownState = errors.New("unknown engine state")
)
