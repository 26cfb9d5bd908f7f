package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deckvoice/deckvoice/internal/announce"
	"github.com/deckvoice/deckvoice/internal/automation"
	"github.com/deckvoice/deckvoice/internal/automation/sim"
	"github.com/deckvoice/deckvoice/internal/domain"
)

func newTestEngine(t *testing.T, deck *sim.Deck) *Engine {
	t.Helper()
	eng := New(Config{Layer: deck})
	t.Cleanup(func() {
		_ = eng.Deactivate(2 * time.Second)
	})
	return eng
}

// awaitAnnouncements drains delivery until want announcements arrived.
func awaitAnnouncements(t *testing.T, d *announce.Delivery, want int) []domain.Announcement {
	t.Helper()
	deadline := time.After(3 * time.Second)
	got := d.Drain()
	for len(got) < want {
		select {
		case <-d.Notify():
			got = append(got, d.Drain()...)
		case <-deadline:
			t.Fatalf("timed out waiting for %d announcements, got %d: %v", want, len(got), got)
		}
	}
	return got
}

func awaitSnapshot(t *testing.T, eng *Engine, ok func(domain.PositionSnapshot) bool) domain.PositionSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap := eng.Snapshot(); ok(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for snapshot, last: %+v", eng.Snapshot())
	return domain.PositionSnapshot{}
}

func requireNoMoreAnnouncements(t *testing.T, d *announce.Delivery) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, d.Drain())
}

func TestActivatePublishesInitialSnapshot(t *testing.T) {
	deck := sim.New(10)
	deck.GoTo(3)
	deck.SetComments(3, 2)
	deck.SetNotes(3, "---- pause ----")

	eng := newTestEngine(t, deck)
	eng.Activate()

	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, "Slide 3, 2 comments, has notes", anns[0].Text)
	require.Equal(t, domain.PriorityNormal, anns[0].Priority)
	require.Equal(t, uint64(1), anns[0].Seq)

	snap := eng.Snapshot()
	require.Equal(t, deck.DocumentID(), snap.DocumentID)
	require.Equal(t, 3, snap.SlideIndex)
	require.Equal(t, 2, snap.CommentCount)
	require.True(t, snap.HasNotes)
	require.Equal(t, uint64(1), snap.Seq)
}

func TestActivateIsIdempotent(t *testing.T) {
	deck := sim.New(5)
	eng := newTestEngine(t, deck)

	eng.Activate()
	eng.Activate()
	eng.Activate()

	awaitAnnouncements(t, eng.Announcements(), 1)
	requireNoMoreAnnouncements(t, eng.Announcements())

	counters := deck.Counters()
	require.Equal(t, int64(1), counters.Opens, "second activation must not open a second session")
	require.Equal(t, int64(1), counters.Subscribes, "second activation must not double-subscribe")
}

func TestChangeNotificationRefreshesSnapshot(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	deck.GoTo(7)

	snap := awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == 7 })
	require.Equal(t, uint64(2), snap.Seq)

	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, "Slide 7, no comments", anns[0].Text)
	require.Equal(t, snap.Seq, anns[0].Seq)
}

func TestSequenceStrictlyIncreases(t *testing.T) {
	deck := sim.New(50)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	for i := 2; i <= 6; i++ {
		deck.GoTo(i)
		awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == i })
	}

	var lastSeq uint64
	for _, a := range awaitAnnouncements(t, eng.Announcements(), 5) {
		require.Greater(t, a.Seq, lastSeq, "announcement sequence must strictly increase")
		lastSeq = a.Seq
	}
}

func TestNotificationBurstCoalesces(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)
	readsBefore := deck.Counters().PositionReads

	// Stall reads so the burst lands while a refresh is in flight.
	deck.SetReadDelay(80 * time.Millisecond)
	deck.GoTo(2)
	deck.GoTo(3)
	deck.GoTo(4)
	deck.SetReadDelay(0)

	awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == 4 })

	reads := deck.Counters().PositionReads - readsBefore
	require.LessOrEqual(t, reads, int64(2), "a burst of three notifications must cost at most two reads")
}

func TestReadPositionFailureGoesUnavailableOnce(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	deck.FailNextPositionRead(automation.ErrCallFailed)
	deck.GoTo(2)

	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, msgUnavailable, anns[0].Text)
	requireNoMoreAnnouncements(t, eng.Announcements())

	// Refresh requests while unavailable are answered with silence.
	require.True(t, eng.RequestRefresh())
	requireNoMoreAnnouncements(t, eng.Announcements())

	// A fresh initialize returns to ready against the now-working layer.
	require.True(t, eng.RequestInitialize())
	anns = awaitAnnouncements(t, eng.Announcements(), 1)
	require.Contains(t, anns[0].Text, "Slide 2")
	require.Equal(t, int64(2), deck.Counters().Opens)
}

func TestReadNotesInteractive(t *testing.T) {
	deck := sim.New(10)
	deck.SetNotes(1, "before ---- key point ---- after")
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	require.True(t, eng.RequestReadNotes())
	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, "key point", anns[0].Text)
	require.Equal(t, domain.PriorityInteractive, anns[0].Priority)
}

func TestReadNotesCachedUntilPositionMoves(t *testing.T) {
	deck := sim.New(10)
	deck.SetNotes(1, "---- once ----")
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	require.True(t, eng.RequestReadNotes())
	require.True(t, eng.RequestReadNotes())
	anns := awaitAnnouncements(t, eng.Announcements(), 2)
	require.Equal(t, "once", anns[0].Text)
	require.Equal(t, "once", anns[1].Text)
	require.Equal(t, int64(1), deck.Counters().NoteReads, "second request must reuse the cached note text")
}

func TestDocumentSwitchDropsNoteCache(t *testing.T) {
	deck := sim.New(10)
	deck.SetNotes(1, "---- old deck ----")
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	require.True(t, eng.RequestReadNotes())
	awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, int64(1), deck.Counters().NoteReads)

	newDoc := deck.SwitchDocument()
	awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.DocumentID == newDoc })
	awaitAnnouncements(t, eng.Announcements(), 1)

	require.True(t, eng.RequestReadNotes())
	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, msgNoSpeakerNotes, anns[0].Text)
	require.Equal(t, int64(2), deck.Counters().NoteReads, "note text must be re-read after a document switch")
}

func TestReadNotesWhileUnavailable(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	deck.FailNextPositionRead(automation.ErrCallFailed)
	deck.GoTo(2)
	awaitAnnouncements(t, eng.Announcements(), 1) // unavailable notice

	// A note request racing the transition is answered, not retried.
	require.True(t, eng.RequestReadNotes())
	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, msgNotesUnavailable, anns[0].Text)
	require.Equal(t, domain.PriorityInteractive, anns[0].Priority)
}

func TestReadNotesFailureAnswersOnce(t *testing.T) {
	deck := sim.New(10)
	deck.SetNotes(1, "---- x ----")
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	deck.FailNextNoteRead(automation.ErrCallFailed)
	require.True(t, eng.RequestReadNotes())

	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, msgNotesUnavailable, anns[0].Text)
	require.Equal(t, domain.PriorityInteractive, anns[0].Priority)
	requireNoMoreAnnouncements(t, eng.Announcements())

	require.Equal(t, "unavailable", eng.Stats().State)
}

func TestOpenFailureAnnouncesUnavailable(t *testing.T) {
	deck := sim.New(10)
	deck.FailNextOpen(automation.ErrUnreachable)
	eng := newTestEngine(t, deck)
	eng.Activate()

	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, msgUnavailable, anns[0].Text)
	require.Equal(t, "unavailable", eng.Stats().State)

	require.True(t, eng.RequestInitialize())
	anns = awaitAnnouncements(t, eng.Announcements(), 1)
	require.Contains(t, anns[0].Text, "Slide 1")
	require.Equal(t, "ready", eng.Stats().State)
}

func TestDeactivateProcessesPendingTasksOnly(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	require.True(t, eng.RequestReadNotes())
	require.True(t, eng.RequestReadNotes())
	require.NoError(t, eng.Deactivate(2*time.Second))

	// Both pre-shutdown requests were answered.
	anns := awaitAnnouncements(t, eng.Announcements(), 2)
	require.Len(t, anns, 2)

	// Nothing is accepted after deactivation.
	require.False(t, eng.RequestReadNotes())
	require.False(t, eng.RequestInitialize())
	require.False(t, eng.Active())
}

func TestDeactivateBoundedByDeadline(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	// Strand the worker inside a long automation call.
	deck.SetReadDelay(2 * time.Second)
	deck.GoTo(2)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	err := eng.Deactivate(200 * time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrDeactivateTimeout)
	require.Less(t, elapsed, time.Second, "deactivation must return near the deadline, not the call duration")
	require.False(t, eng.Active())
	require.Equal(t, uint64(1), eng.Stats().WorkersLeaked)
}

func TestAbandonedWorkerCannotTouchNextActivation(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	// Strand the worker inside a long read of slide 2, then abandon it.
	deck.SetReadDelay(600 * time.Millisecond)
	deck.GoTo(2)
	time.Sleep(50 * time.Millisecond)
	require.ErrorIs(t, eng.Deactivate(50*time.Millisecond), ErrDeactivateTimeout)

	deck.SetReadDelay(0)
	deck.GoTo(5)
	eng.Activate()

	snap := awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == 5 })
	require.Equal(t, uint64(1), snap.Seq)
	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, "Slide 5, no comments", anns[0].Text)

	// Let the abandoned worker wake from its stuck call and try to publish
	// its slide-2 result. Neither the cache nor the announcements may move.
	time.Sleep(800 * time.Millisecond)
	require.Equal(t, snap, eng.Snapshot())
	requireNoMoreAnnouncements(t, eng.Announcements())
}

func TestActivateDiscardsUndrainedAnnouncements(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.Seq == 1 })
	deck.GoTo(3)
	awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == 3 })

	// Two announcements are queued and never drained.
	require.NoError(t, eng.Deactivate(2*time.Second))

	deck.GoTo(6)
	eng.Activate()
	awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == 6 })

	anns := awaitAnnouncements(t, eng.Announcements(), 1)
	require.Equal(t, "Slide 6, no comments", anns[0].Text)
	requireNoMoreAnnouncements(t, eng.Announcements())
}

func TestReactivateAfterDeactivate(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)

	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)
	require.NoError(t, eng.Deactivate(2*time.Second))

	// The snapshot carried over into the new activation is the empty one.
	deck.GoTo(5)
	eng.Activate()
	require.True(t, eng.Active())

	snap := awaitSnapshot(t, eng, func(s domain.PositionSnapshot) bool { return s.SlideIndex == 5 })
	require.Equal(t, uint64(1), snap.Seq, "a fresh worker starts its sequence over")
	require.Equal(t, int64(2), deck.Counters().Opens)
	require.Equal(t, int64(2), deck.Counters().Subscribes)
}

func TestDeactivateIdleWorker(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)
	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	// Worker is parked in Dequeue; the close must wake it.
	require.NoError(t, eng.Deactivate(time.Second))
	require.Equal(t, int64(1), deck.Counters().Closes)
}

func TestStats(t *testing.T) {
	deck := sim.New(10)
	eng := newTestEngine(t, deck)

	require.Equal(t, "stopped", eng.Stats().State)

	eng.Activate()
	awaitAnnouncements(t, eng.Announcements(), 1)

	st := eng.Stats()
	require.Equal(t, "ready", st.State)
	require.GreaterOrEqual(t, st.TasksProcessed, uint64(1))
	require.Equal(t, uint64(1), st.SnapshotSeq)
}
