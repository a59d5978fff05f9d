package gdb

import "errors"

// Sentinel errors for caller-usage faults. Protocol-level trouble
// (timeouts, unrecognized lines) is absorbed and never surfaces as an
// error; callers get degraded results instead.
var (
	// ErrNotStarted is returned when a command is issued without an
	// active debugger process.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted is returned when Start is called on a session
	// that already owns a process.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrBadAddress is returned when a caller-supplied address cannot
	// be parsed as hex.
	ErrBadAddress = errors.New("bad address")
)
