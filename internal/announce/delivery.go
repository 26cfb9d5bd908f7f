// Package announce carries spoken output from the worker loop to the host's
// main context. The producer never blocks; the consumer drains with the
// host's own non-blocking idiom (poll Drain, or wait on Notify).
package announce

import (
	"log/slog"
	"sync"

	"github.com/deckvoice/deckvoice/internal/domain"
)

const DefaultCapacity = 32

// Delivery is a bounded, ordered, single-consumer announcement queue.
//
// Overflow policy: a newcomer evicts the oldest normal-priority entry. When
// nothing is evictable (the buffer holds only interactive entries), a normal
// newcomer is dropped and an interactive newcomer is admitted beyond
// capacity — an interactive reply to a user command is never lost.
//
// Producers carry a generation: Rebind advances it, after which deliveries
// from earlier generations are rejected. This keeps a worker abandoned at the
// deactivation deadline from speaking into a later activation.
type Delivery struct {
	mu       sync.Mutex
	buf      []domain.Announcement
	capacity int
	dropped  uint64
	gen      uint64

	notify chan struct{}
	log    *slog.Logger
}

func NewDelivery(capacity int, log *slog.Logger) *Delivery {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Delivery{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		log:      log,
	}
}

// Deliver appends an announcement from the given producer generation and
// reports whether it was accepted. Never blocks.
func (d *Delivery) Deliver(gen uint64, a domain.Announcement) bool {
	d.mu.Lock()
	if gen < d.gen {
		d.mu.Unlock()
		d.log.Debug("announcement from superseded producer rejected",
			"seq", a.Seq, "gen", gen)
		return false
	}
	if len(d.buf) >= d.capacity && !d.evictOldestNormal() {
		if a.Priority == domain.PriorityNormal {
			d.dropped++
			d.mu.Unlock()
			d.log.Warn("announcement dropped, delivery full",
				"seq", a.Seq, "capacity", d.capacity)
			return false
		}
		// Interactive with nothing evictable: admit beyond capacity.
	}
	d.buf = append(d.buf, a)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// evictOldestNormal removes the oldest normal-priority entry. Caller holds mu.
func (d *Delivery) evictOldestNormal() bool {
	for i, a := range d.buf {
		if a.Priority == domain.PriorityNormal {
			d.buf = append(d.buf[:i], d.buf[i+1:]...)
			d.dropped++
			d.log.Warn("announcement evicted, delivery full", "seq", a.Seq)
			return true
		}
	}
	return false
}

// Rebind advances the queue to a new producer generation. Anything still
// queued from an earlier generation is discarded, and later deliveries from
// superseded producers are rejected.
func (d *Delivery) Rebind(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.buf); n > 0 {
		d.log.Debug("undrained announcements discarded on rebind", "count", n)
	}
	d.gen = gen
	d.buf = nil
}

// Drain removes and returns everything currently queued, in delivery order.
// Returns nil when empty. Intended to be called from the single consumer.
func (d *Delivery) Drain() []domain.Announcement {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buf) == 0 {
		return nil
	}
	out := d.buf
	d.buf = nil
	return out
}

// Notify returns a channel that receives a token after announcements become
// available. At most one token is pending at a time; a receive should be
// followed by a Drain loop until empty.
func (d *Delivery) Notify() <-chan struct{} {
	return d.notify
}

// Len returns the number of queued announcements.
func (d *Delivery) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// Dropped returns how many announcements were dropped or evicted so far.
func (d *Delivery) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
