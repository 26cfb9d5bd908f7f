package engine

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/deckvoice/deckvoice/internal/announce"
	"github.com/deckvoice/deckvoice/internal/automation"
	"github.com/deckvoice/deckvoice/internal/circuit"
	"github.com/deckvoice/deckvoice/internal/domain"
)

type workerState int32

const (
	stateIdle workerState = iota
	stateReady
	stateUnavailable
	stateStopped
)

func (s workerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateReady:
		return "ready"
	case stateUnavailable:
		return "unavailable"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	msgUnavailable      = "Presentation unavailable."
	msgNotesUnavailable = "Speaker notes unavailable."
	msgNoSpeakerNotes   = "No speaker notes on this slide."
	msgNoMarkedNotes    = "No marked notes on this slide."
	msgNoSlide          = "No slide selected."
)

// worker is the single execution context that owns the automation session.
// One instance per activation; run exits when the task queue delivers the
// final shutdown task.
type worker struct {
	layer    automation.Layer
	queue    *TaskQueue
	cache    *StateCache
	delivery *announce.Delivery
	bridge   *Bridge
	breaker  *circuit.Breaker

	noteMarker string
	log        *slog.Logger

	// gen is the activation generation this worker writes under. The cache
	// and delivery queue reject writes from a superseded generation, so a
	// worker abandoned at the deactivation deadline cannot leak stale state
	// into a later activation.
	gen uint64

	// Owned by the worker goroutine, never shared.
	session automation.Session
	seq     uint64

	// Session-scoped note cache, valid only for the snapshot seq it was
	// read under. Never survives a document switch.
	noteText   string
	noteSeq    uint64
	noteCached bool

	state          atomic.Int32 // workerState, readable from any goroutine
	tasksProcessed atomic.Uint64

	done chan struct{}
}

func newWorker(layer automation.Layer, queue *TaskQueue, cache *StateCache, delivery *announce.Delivery, bridge *Bridge, breaker *circuit.Breaker, noteMarker string, gen uint64, log *slog.Logger) *worker {
	return &worker{
		layer:      layer,
		queue:      queue,
		cache:      cache,
		delivery:   delivery,
		bridge:     bridge,
		breaker:    breaker,
		noteMarker: noteMarker,
		gen:        gen,
		log:        log,
		done:       make(chan struct{}),
	}
}

func (w *worker) currentState() workerState {
	return workerState(w.state.Load())
}

func (w *worker) setState(s workerState) {
	prev := workerState(w.state.Swap(int32(s)))
	if prev != s {
		w.log.Debug("worker state changed", "from", prev.String(), "to", s.String())
	}
}

// run drains the task queue until shutdown. The automation layer is
// apartment-bound, so the goroutine pins itself to one OS thread for its
// whole life; the session is created, used and closed on that thread only.
func (w *worker) run() {
	runtime.LockOSThread()
	defer close(w.done)

	for {
		task, ok := w.queue.Dequeue()
		if !ok {
			w.setState(stateStopped)
			return
		}
		w.tasksProcessed.Add(1)

		switch task.Kind {
		case domain.TaskInitialize:
			w.handleInitialize()
		case domain.TaskRefreshPosition:
			w.handleRefresh()
		case domain.TaskReadNotes:
			w.handleReadNotes()
		case domain.TaskShutdown:
			w.shutdown()
			return
		}
	}
}

func (w *worker) handleInitialize() {
	if !w.ensureSession(false) {
		return
	}
	w.refresh()
}

func (w *worker) handleRefresh() {
	// No task-driven retry here: once unavailable, only an initialize-class
	// task attempts re-acquisition. Refreshes are answered with silence.
	if w.currentState() == stateUnavailable {
		return
	}
	if !w.ensureSession(false) {
		return
	}
	w.refresh()
}

func (w *worker) handleReadNotes() {
	if w.currentState() == stateUnavailable {
		w.answerNotesUnavailable()
		return
	}
	if !w.ensureSession(true) {
		w.answerNotesUnavailable()
		return
	}

	raw, err := w.noteTextForCurrentSlide()
	if err != nil {
		// The interactive reply is the user-visible signal here; the
		// invalidation itself stays quiet so the command is answered
		// exactly once.
		w.invalidate(err, false)
		w.answerNotesUnavailable()
		return
	}

	snap := w.cache.Snapshot()
	w.delivery.Deliver(w.gen, domain.NewInteractiveAnnouncement(formatNotes(raw, w.noteMarker), snap.Seq))
}

// ensureSession acquires the automation session if the worker does not hold
// one. On failure the worker becomes unavailable; unless quiet, that is
// announced.
func (w *worker) ensureSession(quiet bool) bool {
	if w.session != nil {
		return true
	}

	if !w.breaker.Allow() {
		w.log.Debug("session acquisition skipped, reconnect cooldown",
			"remaining", w.breaker.Remaining())
		w.becomeUnavailable(quiet)
		return false
	}

	sess, err := w.layer.OpenSession()
	if err != nil {
		w.log.Warn("failed to open automation session", "error", err)
		w.breaker.Failure()
		w.becomeUnavailable(quiet)
		return false
	}
	w.breaker.Success()

	// Subscription is re-established on every acquisition; a handler from a
	// previous session does not carry over.
	if err := sess.Subscribe(w.bridge.Notify); err != nil {
		w.log.Warn("failed to subscribe to change notifications", "error", err)
		_ = sess.Close()
		w.becomeUnavailable(quiet)
		return false
	}

	w.session = sess
	w.setState(stateReady)
	w.log.Info("automation session acquired")
	return true
}

// refresh re-reads the position in one batched call and publishes a new
// snapshot. Every field of the snapshot comes from that single read.
func (w *worker) refresh() {
	pos, err := w.session.ReadPosition()
	if err != nil {
		w.invalidate(err, true)
		return
	}

	if prev := w.cache.Snapshot(); prev.DocumentID != pos.DocumentID {
		// Document switched: session-scoped sub-state must not be
		// re-derived from the old document.
		w.dropNoteCache()
	}

	w.seq++
	next := domain.PositionSnapshot{
		DocumentID:   pos.DocumentID,
		SlideIndex:   pos.SlideIndex,
		CommentCount: pos.CommentCount,
		HasNotes:     pos.HasNotes,
		Seq:          w.seq,
	}
	if !w.cache.publish(next, w.gen) {
		// Superseded: a later activation owns the cache now. Stay silent.
		return
	}
	w.delivery.Deliver(w.gen, domain.NewAnnouncement(formatPosition(next), next.Seq))
}

// invalidate reacts to a failed automation call: the session is released, the
// worker goes unavailable and, unless quiet, says so once.
func (w *worker) invalidate(err error, announceIt bool) {
	w.log.Warn("automation call failed, session invalidated", "error", err)
	if w.session != nil {
		_ = w.session.Close()
		w.session = nil
	}
	w.dropNoteCache()
	w.setState(stateUnavailable)
	if announceIt {
		w.delivery.Deliver(w.gen, domain.NewAnnouncement(msgUnavailable, 0))
	}
}

// becomeUnavailable marks the worker unavailable after a failed acquisition.
func (w *worker) becomeUnavailable(quiet bool) {
	w.setState(stateUnavailable)
	if !quiet {
		w.delivery.Deliver(w.gen, domain.NewAnnouncement(msgUnavailable, 0))
	}
}

func (w *worker) answerNotesUnavailable() {
	w.delivery.Deliver(w.gen, domain.NewInteractiveAnnouncement(msgNotesUnavailable, 0))
}

// noteTextForCurrentSlide reads the raw speaker notes, reusing the cached
// text while the snapshot has not moved since it was read.
func (w *worker) noteTextForCurrentSlide() (string, error) {
	snap := w.cache.Snapshot()
	if w.noteCached && w.noteSeq == snap.Seq {
		return w.noteText, nil
	}

	raw, err := w.session.ReadNoteText()
	if err != nil {
		return "", err
	}
	w.noteText = raw
	w.noteSeq = snap.Seq
	w.noteCached = true
	return raw, nil
}

func (w *worker) dropNoteCache() {
	w.noteText = ""
	w.noteSeq = 0
	w.noteCached = false
}

func (w *worker) shutdown() {
	if w.session != nil {
		_ = w.session.Close()
		w.session = nil
	}
	w.setState(stateStopped)
	w.log.Info("worker stopped")
}

func formatPosition(s domain.PositionSnapshot) string {
	if s.NoSlide() {
		return msgNoSlide
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Slide %d", s.SlideIndex)
	switch s.CommentCount {
	case 0:
		b.WriteString(", no comments")
	case 1:
		b.WriteString(", 1 comment")
	default:
		fmt.Fprintf(&b, ", %d comments", s.CommentCount)
	}
	if s.HasNotes {
		b.WriteString(", has notes")
	}
	return b.String()
}

// formatNotes turns raw speaker-notes text into the spoken reply. Only the
// text bracketed by the first marker pair is read out.
func formatNotes(raw, marker string) string {
	if strings.TrimSpace(raw) == "" {
		return msgNoSpeakerNotes
	}
	marked, ok := extractMarked(raw, marker)
	if !ok || marked == "" {
		return msgNoMarkedNotes
	}
	return marked
}

// extractMarked returns the trimmed text between the first pair of marker
// occurrences.
func extractMarked(raw, marker string) (string, bool) {
	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(marker):]
	end := strings.Index(rest, marker)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
