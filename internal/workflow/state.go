package workflow

import (
	"errors"
	"fmt"
)

// State is a step of the per-session state machine.
type State int

const (
	Open State = iota
	Compose
	AwaitEnabled
	Commit
	Confirm
	CloseInit
	SetDisposition
	Submit
	Acknowledge
	AwaitSettled
	Closed
	// Delivered ends a session whose plan does not include closing it.
	Delivered
	Aborted
)

var stateNames = [...]string{
	Open:           "open",
	Compose:        "compose",
	AwaitEnabled:   "await-enabled",
	Commit:         "commit",
	Confirm:        "confirm",
	CloseInit:      "close-init",
	SetDisposition: "set-disposition",
	Submit:         "submit",
	Acknowledge:    "acknowledge",
	AwaitSettled:   "await-settled",
	Closed:         "closed",
	Delivered:      "delivered",
	Aborted:        "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == Closed || s == Delivered || s == Aborted
}

var (
	// ErrAborted matches every *AbortError.
	ErrAborted = errors.New("workflow: session aborted")
	// ErrConfirmationTimeout means a message token never showed up in traffic,
	// including after the in-session retry.
	ErrConfirmationTimeout = errors.New("workflow: message not confirmed by network traffic")
)

// AbortError reports a session that could not complete. Confirmed messages stay
// delivered; the session is never closed after an abort.
type AbortError struct {
	State     State
	Confirmed int
	Planned   int
	Err       error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("session aborted in %s after %d/%d confirmed messages: %v",
		e.State, e.Confirmed, e.Planned, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

func (e *AbortError) Is(target error) bool { return target == ErrAborted }
