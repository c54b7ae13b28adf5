package domain

import "errors"

var (
	// ErrAlreadyJoined is returned by Join while a session is live.
	ErrAlreadyJoined = errors.New("already joined a room")

	// ErrMediaAccessDenied wraps a failure to acquire camera/microphone.
	// Non-fatal: the caller may retry the join without media.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrStaleSignal marks a negotiation payload addressed to a participant
	// with no matching peer link. Dropped and logged, never fatal.
	ErrStaleSignal = errors.New("stale peer signal")

	// ErrInvalidTransition marks a speaking-rights action requested from a
	// state that forbids it. Rejected as a no-op at the session boundary.
	ErrInvalidTransition = errors.New("invalid speaking state transition")

	// ErrSignalingClosed is terminal: the relay connection is gone and the
	// session must be re-joined.
	ErrSignalingClosed = errors.New("signaling channel closed")

	// ErrNoTrack is returned when a toggle targets a track kind the local
	// stream does not carry.
	ErrNoTrack = errors.New("no local track of requested kind")
)
