package orch

import "errors"

// Session-level failure categories surfaced through status and error
// events.
var (
	// ErrAttemptsExhausted means the generation budget ran out before the
	// code passed review and tests.
	ErrAttemptsExhausted = errors.New("generation attempts exhausted")

	// ErrUserCancelled means the client requested a stop.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrInvalidTransition means a command arrived for a session whose
	// stage does not accept it. The session is left untouched.
	ErrInvalidTransition = errors.New("invalid transition for current stage")
)
