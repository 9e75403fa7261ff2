// Package mux defines the interface to the terminal multiplexer that
// hosts agent windows.
//
// Callers depend on [Multiplexer] for window lifecycle and pane I/O.
// The production implementation is [Tmux]; [Fake] provides a test
// double with spy capabilities. Agents live one-per-window inside a
// single multiplexer group (a tmux session); the supervisor never
// talks to the multiplexer except through this interface.
package mux

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a window handle or name does not
// resolve to a live window.
var ErrNotFound = errors.New("window not found")

// OpTimeout bounds every multiplexer operation. A timed-out operation
// is reported as ErrNotFound (kill, send) or empty output (capture),
// never as a fatal failure.
const OpTimeout = 5 * time.Second

// Window identifies one multiplexer window within a group.
type Window struct {
	// Handle is the multiplexer's opaque identifier (e.g. tmux "@3").
	Handle string
	// Name is the human-visible window title.
	Name string
}

// Multiplexer creates, destroys, and exchanges I/O with agent windows
// in a named group. Implementations apply [OpTimeout] per operation.
type Multiplexer interface {
	// NewWindow creates a window named name in group, with its shell
	// rooted at workDir, and returns the opaque window handle. The
	// group is created on demand if it does not exist.
	NewWindow(group, name, workDir string) (string, error)

	// KillWindow destroys the window. Returns ErrNotFound if the
	// handle does not resolve.
	KillWindow(group, handle string) error

	// ListWindows returns all windows in the group. A missing group
	// yields an empty list, not an error.
	ListWindows(group string) ([]Window, error)

	// CapturePane returns the most recent maxLines lines of the
	// window's pane, ANSI control sequences stripped, empty lines
	// preserved. A vanished window yields ("", ErrNotFound).
	CapturePane(group, handle string, maxLines int) (string, error)

	// SendText delivers text to the window literally, optionally
	// followed by Enter. Multi-line text is delivered in one piece;
	// the receiving program interprets embedded newlines.
	SendText(group, handle, text string, pressEnter bool) error

	// SendKey sends a single named key (e.g. "Enter", "Escape",
	// "C-c") to the window.
	SendKey(group, handle, key string) error
}
