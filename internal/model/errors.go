package model

import "errors"

var (
	// ErrValidation is returned for malformed or missing request fields.
	// It stays local to the caller and never mutates state.
	ErrValidation = errors.New("invalid request")

	// ErrSSHUnavailable is returned when the remote-access subsystem is
	// disabled. Every dependent operation degrades to this error.
	ErrSSHUnavailable = errors.New("ssh support is not enabled on this server")

	// ErrNoConnection is returned when an operation requires an
	// established remote session and none exists.
	ErrNoConnection = errors.New("no ssh connection established")

	// ErrCommandActive is returned when a command is requested while
	// another is still running. Commands are never queued.
	ErrCommandActive = errors.New("previous command is still running")

	// ErrNoActiveCommand is returned when input is sent without a
	// running command.
	ErrNoActiveCommand = errors.New("no command is currently running")

	// ErrShellNotStarted is returned when shell input arrives before the
	// interactive shell was started.
	ErrShellNotStarted = errors.New("interactive shell has not been started")

	// ErrSessionNotFound is returned when no debug session exists for a
	// client or pid.
	ErrSessionNotFound = errors.New("debug session not found")

	// ErrUnauthorized is returned when the session-token precondition
	// fails before an operation reaches the core.
	ErrUnauthorized = errors.New("unauthorized")
)
