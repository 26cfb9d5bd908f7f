// Package automation defines the port to the slide-editing application's
// programmatic interface. Every call is synchronous and apartment-bound: a
// session must only ever be used from the single OS thread that opened it.
// The engine's worker loop is the only caller.
package automation

import "errors"

var (
	// ErrUnreachable means the automation root could not be opened, usually
	// because the editing application is not running or not in the
	// foreground.
	ErrUnreachable = errors.New("automation root unreachable")

	// ErrCallFailed means a read failed mid-session. The session must be
	// treated as dead and re-opened on the next initialize-class task.
	ErrCallFailed = errors.New("automation call failed")
)

// Position is the result of a single batched position read. All four fields
// originate from the same underlying document state.
type Position struct {
	DocumentID   string
	SlideIndex   int
	CommentCount int
	HasNotes     bool
}

// Layer opens sessions against the editing application.
type Layer interface {
	// OpenSession connects to the automation root. Returns ErrUnreachable
	// (possibly wrapped) when the application cannot be reached.
	OpenSession() (Session, error)
}

// Session is one live connection to the automation root.
//
// All methods block until the underlying automation call completes; there is
// no mid-call cancellation. Calls after Close have undefined results, the
// engine never issues them.
type Session interface {
	// Subscribe registers a structural-change handler (selection change,
	// presentation advance). The handler runs on an arbitrary goroutine and
	// must do no more than hand off a message before returning. Subscribing
	// again replaces the previous handler.
	Subscribe(fn func()) error

	// ReadPosition reads document identity, slide index, comment count and
	// notes flag in one bounded batch. Returns ErrCallFailed (possibly
	// wrapped) on any failure.
	ReadPosition() (Position, error)

	// ReadNoteText returns the raw speaker-notes text of the current slide.
	ReadNoteText() (string, error)

	// Close releases the connection. Best-effort, idempotent.
	Close() error
}
