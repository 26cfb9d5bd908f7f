// Package engine is the cross-thread coordination core. A dedicated worker
// goroutine owns the automation session and drains a FIFO task queue; the
// host's main context enqueues work and drains announcements without ever
// blocking on an automation call.
package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/deckvoice/deckvoice/internal/announce"
	"github.com/deckvoice/deckvoice/internal/automation"
	"github.com/deckvoice/deckvoice/internal/circuit"
	"github.com/deckvoice/deckvoice/internal/domain"
)

// ErrDeactivateTimeout is returned when the worker does not acknowledge the
// shutdown before the deadline. The worker and its automation resources are
// abandoned rather than risking a hang of the host.
var ErrDeactivateTimeout = errors.New("worker did not stop before deadline")

const DefaultNoteMarker = "----"

type Config struct {
	// Layer connects to the editing application. Required.
	Layer automation.Layer

	// QueueCapacity bounds the task queue. Defaults to DefaultQueueCapacity.
	QueueCapacity int

	// DeliveryCapacity bounds the announcement queue. Defaults to
	// announce.DefaultCapacity.
	DeliveryCapacity int

	// NoteMarker is the delimiter bracketing spoken note text. Defaults to
	// DefaultNoteMarker.
	NoteMarker string

	// BreakerThreshold and BreakerCooldown gate session re-acquisition after
	// consecutive open failures. Defaults from the circuit package.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	Logger *slog.Logger
}

// Engine wires the task queue, worker loop, notification bridge and state
// cache together and drives them through activation and deactivation. One
// explicitly constructed instance per host session; there is no package-level
// state, so tests can run several engines side by side.
type Engine struct {
	mu      sync.Mutex
	running bool
	queue   *TaskQueue
	worker  *worker

	layer            automation.Layer
	cache            *StateCache
	delivery         *announce.Delivery
	noteMarker       string
	queueCap         int
	breakerThreshold int
	breakerCooldown  time.Duration
	log              *slog.Logger

	// gen counts activations. The cache and delivery queue outlive any one
	// worker; writes carry the generation so a worker abandoned at the
	// deactivation deadline cannot touch state a later activation owns.
	gen    uint64
	leaked uint64
}

func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine")

	marker := cfg.NoteMarker
	if marker == "" {
		marker = DefaultNoteMarker
	}

	return &Engine{
		layer:            cfg.Layer,
		cache:            NewStateCache(),
		delivery:         announce.NewDelivery(cfg.DeliveryCapacity, log),
		noteMarker:       marker,
		queueCap:         cfg.QueueCapacity,
		breakerThreshold: cfg.BreakerThreshold,
		breakerCooldown:  cfg.BreakerCooldown,
		log:              log,
	}
}

// Activate starts a fresh worker loop. Idempotent: a second call while
// running does nothing, so a repeated activation signal cannot create two
// workers or double-subscribe the notification bridge.
func (e *Engine) Activate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.log.Debug("activate ignored, already running")
		return
	}

	e.gen++
	e.cache.Reset(e.gen)
	e.delivery.Rebind(e.gen)
	e.queue = NewTaskQueue(e.queueCap, e.log)
	bridge := newBridge(e.queue)
	breaker := circuit.NewBreaker(e.breakerThreshold, e.breakerCooldown)
	e.worker = newWorker(e.layer, e.queue, e.cache, e.delivery, bridge, breaker, e.noteMarker, e.gen, e.log)
	e.running = true

	go e.worker.run()
	e.queue.Enqueue(domain.Task{Kind: domain.TaskInitialize})
	e.log.Info("engine activated")
}

// Deactivate closes the task queue behind a final shutdown task and waits up
// to deadline for the worker to finish the tasks enqueued before the close.
// On timeout the worker is abandoned mid-call (automation calls cannot be
// interrupted) and ErrDeactivateTimeout is returned; the engine itself is
// immediately reusable.
func (e *Engine) Deactivate(deadline time.Duration) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	w := e.worker
	q := e.queue
	e.running = false
	e.worker = nil
	e.queue = nil
	e.mu.Unlock()

	q.CloseWith(domain.Task{Kind: domain.TaskShutdown, Deadline: deadline})

	select {
	case <-w.done:
		e.log.Info("engine deactivated")
		return nil
	case <-time.After(deadline):
		e.mu.Lock()
		e.leaked++
		e.gen++
		gen := e.gen
		e.mu.Unlock()
		// Cut the abandoned worker off before it wakes from its stuck call:
		// whatever it still publishes or delivers is rejected.
		e.cache.Reset(gen)
		e.delivery.Rebind(gen)
		e.log.Warn("deactivation deadline elapsed, abandoning worker",
			"deadline", deadline)
		return ErrDeactivateTimeout
	}
}

// Active reports whether a worker loop is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RequestInitialize asks the worker to (re)acquire the automation session and
// publish a fresh snapshot. Non-blocking; reports whether the request was
// accepted.
func (e *Engine) RequestInitialize() bool {
	return e.enqueue(domain.Task{Kind: domain.TaskInitialize})
}

// RequestReadNotes asks the worker to read the current slide's marked notes
// and answer with an interactive announcement. Non-blocking.
func (e *Engine) RequestReadNotes() bool {
	return e.enqueue(domain.Task{Kind: domain.TaskReadNotes})
}

// RequestRefresh asks the worker to republish the current position.
// Non-blocking; bursts coalesce like bridge notifications.
func (e *Engine) RequestRefresh() bool {
	return e.enqueue(domain.Task{Kind: domain.TaskRefreshPosition})
}

func (e *Engine) enqueue(t domain.Task) bool {
	e.mu.Lock()
	q := e.queue
	running := e.running
	e.mu.Unlock()

	if !running || q == nil {
		return false
	}
	return q.Enqueue(t)
}

// Snapshot returns the latest published position snapshot. Safe from any
// goroutine; never blocks the worker.
func (e *Engine) Snapshot() domain.PositionSnapshot {
	return e.cache.Snapshot()
}

// Announcements exposes the delivery queue for the host's drain loop.
func (e *Engine) Announcements() *announce.Delivery {
	return e.delivery
}

// Stats is a point-in-time view of the engine's counters.
type Stats struct {
	State                string `json:"state"`
	TasksProcessed       uint64 `json:"tasks_processed"`
	RefreshesCoalesced   uint64 `json:"refreshes_coalesced"`
	TasksRejected        uint64 `json:"tasks_rejected"`
	BridgeNotifications  uint64 `json:"bridge_notifications"`
	AnnouncementsDropped uint64 `json:"announcements_dropped"`
	AnnouncementsQueued  int    `json:"announcements_queued"`
	WorkersLeaked        uint64 `json:"workers_leaked"`
	SnapshotSeq          uint64 `json:"snapshot_seq"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	w := e.worker
	q := e.queue
	leaked := e.leaked
	running := e.running
	e.mu.Unlock()

	st := Stats{
		State:                stateStopped.String(),
		AnnouncementsDropped: e.delivery.Dropped(),
		AnnouncementsQueued:  e.delivery.Len(),
		WorkersLeaked:        leaked,
		SnapshotSeq:          e.cache.Snapshot().Seq,
	}
	if running && w != nil {
		st.State = w.currentState().String()
		st.TasksProcessed = w.tasksProcessed.Load()
		st.BridgeNotifications = w.bridge.Notifications()
	}
	if q != nil {
		st.RefreshesCoalesced = q.Coalesced()
		st.TasksRejected = q.Rejected()
	}
	return st
}
