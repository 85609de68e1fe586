package session

import "errors"

var (
	// ErrUnknownStream is returned for media or stop events whose stream id
	// resolves to no live session.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrSessionExists is returned when a call id is already registered.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionClosed is returned when posting to a session that has finished.
	ErrSessionClosed = errors.New("session closed")
)
