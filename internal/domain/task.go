package domain

import "time"

type TaskKind int

const (
	// TaskInitialize acquires (or re-acquires) the automation session and
	// publishes a first snapshot.
	TaskInitialize TaskKind = iota

	// TaskRefreshPosition re-reads the current position and republishes the
	// snapshot. Enqueued by the notification bridge and coalesced while one
	// is already queued.
	TaskRefreshPosition

	// TaskReadNotes reads the current slide's marked speaker notes and
	// answers with an interactive announcement.
	TaskReadNotes

	// TaskShutdown stops the worker loop after the tasks ahead of it have
	// been processed. Always the final task of a queue.
	TaskShutdown
)

func (k TaskKind) String() string {
	switch k {
	case TaskInitialize:
		return "initialize"
	case TaskRefreshPosition:
		return "refresh_position"
	case TaskReadNotes:
		return "read_notes"
	case TaskShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Task is a single unit of work for the worker loop. Tasks are processed
// strictly in arrival order; none of the variants carries payload beyond the
// shutdown deadline.
type Task struct {
	Kind TaskKind

	// Deadline bounds how long a deactivation waits for the worker to
	// acknowledge the shutdown. Only set on TaskShutdown.
	Deadline time.Duration
}
