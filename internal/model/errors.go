package model

import "errors"

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session exists but its expiry has passed.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidCode is returned when a join code is missing or too short.
	ErrInvalidCode = errors.New("invalid session code")

	// ErrCodeMismatch is returned when a join code does not match the stored code.
	ErrCodeMismatch = errors.New("session code mismatch")

	// ErrVowThreadNotFound is returned when no vow thread has been persisted for a session.
	ErrVowThreadNotFound = errors.New("vow thread not found")

	// ErrRealtimeStateNotFound is returned when a realtime state row is missing.
	ErrRealtimeStateNotFound = errors.New("realtime state not found")

	// ErrVersionConflict is returned when a realtime state write loses a compare-and-swap
	// against the stored version.
	ErrVersionConflict = errors.New("realtime state version conflict")
)

// ErrCodeTaken is returned when a new session's join code is already in use.
var ErrCodeTaken = errors.New("session code already in use")
