// Package sim is a scripted in-memory automation layer. It stands in for the
// real editing application in the demo binary and the test suite: tests script
// slide changes, comment counts, note text and failures, and assert on how the
// engine reacts.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/deckvoice/deckvoice/internal/automation"
)

// Deck is a scriptable automation layer. The zero value is unusable; use New.
//
// Thread-safety: all methods may be called from any goroutine. Scripted
// failures apply to the next matching call and then clear, so a test can
// exercise exactly one failure.
type Deck struct {
	mu sync.Mutex

	docID      string
	slideIndex int
	comments   map[int]int
	notes      map[int]string

	handler      func()
	handlerOwner *session

	openErr     error
	positionErr error
	noteErr     error

	// readDelay stalls position reads, simulating a slow automation call.
	readDelay time.Duration

	opens         atomic.Int64
	positionReads atomic.Int64
	noteReads     atomic.Int64
	subscribes    atomic.Int64
	closes        atomic.Int64
}

// New creates a deck with one open document and the given number of slides,
// positioned on slide 1.
func New(slides int) *Deck {
	d := &Deck{
		comments: make(map[int]int),
		notes:    make(map[int]string),
	}
	d.docID = uuid.NewString()
	if slides > 0 {
		d.slideIndex = 1
	}
	return d
}

// OpenSession implements automation.Layer.
func (d *Deck) OpenSession() (automation.Session, error) {
	d.mu.Lock()
	err := d.openErr
	d.openErr = nil
	d.mu.Unlock()

	d.opens.Add(1)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &session{deck: d}, nil
}

// GoTo moves to the given slide and fires the change handler.
func (d *Deck) GoTo(slide int) {
	d.mu.Lock()
	d.slideIndex = slide
	handler := d.handler
	d.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// Advance moves to the next slide and fires the change handler.
func (d *Deck) Advance() {
	d.mu.Lock()
	d.slideIndex++
	handler := d.handler
	d.mu.Unlock()

	if handler != nil {
		handler()
	}
}

// SwitchDocument replaces the open document with a fresh one, resetting the
// position to slide 1 and firing the change handler.
func (d *Deck) SwitchDocument() string {
	d.mu.Lock()
	d.docID = uuid.NewString()
	d.slideIndex = 1
	d.comments = make(map[int]int)
	d.notes = make(map[int]string)
	handler := d.handler
	id := d.docID
	d.mu.Unlock()

	if handler != nil {
		handler()
	}
	return id
}

// SetComments sets the comment count for a slide.
func (d *Deck) SetComments(slide, count int) {
	d.mu.Lock()
	d.comments[slide] = count
	d.mu.Unlock()
}

// SetNotes sets the raw speaker-notes text for a slide.
func (d *Deck) SetNotes(slide int, text string) {
	d.mu.Lock()
	d.notes[slide] = text
	d.mu.Unlock()
}

// FailNextOpen makes the next OpenSession return the given error.
func (d *Deck) FailNextOpen(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// FailNextPositionRead makes the next ReadPosition return the given error.
func (d *Deck) FailNextPositionRead(err error) {
	d.mu.Lock()
	d.positionErr = err
	d.mu.Unlock()
}

// FailNextNoteRead makes the next ReadNoteText return the given error.
func (d *Deck) FailNextNoteRead(err error) {
	d.mu.Lock()
	d.noteErr = err
	d.mu.Unlock()
}

// SetReadDelay stalls every subsequent ReadPosition by delay.
func (d *Deck) SetReadDelay(delay time.Duration) {
	d.mu.Lock()
	d.readDelay = delay
	d.mu.Unlock()
}

// DocumentID returns the identity of the currently open document.
func (d *Deck) DocumentID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.docID
}

// Counters reports how many automation calls the deck has served.
type Counters struct {
	Opens         int64
	PositionReads int64
	NoteReads     int64
	Subscribes    int64
	Closes        int64
}

func (d *Deck) Counters() Counters {
	return Counters{
		Opens:         d.opens.Load(),
		PositionReads: d.positionReads.Load(),
		NoteReads:     d.noteReads.Load(),
		Subscribes:    d.subscribes.Load(),
		Closes:        d.closes.Load(),
	}
}

type session struct {
	deck   *Deck
	closed atomic.Bool
}

func (s *session) Subscribe(fn func()) error {
	s.deck.subscribes.Add(1)
	s.deck.mu.Lock()
	s.deck.handler = fn
	s.deck.handlerOwner = s
	s.deck.mu.Unlock()
	return nil
}

func (s *session) ReadPosition() (automation.Position, error) {
	d := s.deck
	d.positionReads.Add(1)

	d.mu.Lock()
	delay := d.readDelay
	err := d.positionErr
	d.positionErr = nil
	pos := automation.Position{
		DocumentID:   d.docID,
		SlideIndex:   d.slideIndex,
		CommentCount: d.comments[d.slideIndex],
		HasNotes:     d.notes[d.slideIndex] != "",
	}
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return automation.Position{}, fmt.Errorf("read position: %w", err)
	}
	return pos, nil
}

func (s *session) ReadNoteText() (string, error) {
	d := s.deck
	d.noteReads.Add(1)

	d.mu.Lock()
	err := d.noteErr
	d.noteErr = nil
	text := d.notes[d.slideIndex]
	d.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("read note text: %w", err)
	}
	return text, nil
}

func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.deck.closes.Add(1)
		s.deck.mu.Lock()
		// Only detach our own subscription: a stale session closed after a
		// newer one subscribed must not silence the newer one.
		if s.deck.handlerOwner == s {
			s.deck.handler = nil
			s.deck.handlerOwner = nil
		}
		s.deck.mu.Unlock()
	}
	return nil
}
