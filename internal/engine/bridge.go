package engine

import (
	"sync/atomic"

	"github.com/deckvoice/deckvoice/internal/domain"
)

// Bridge adapts the editing application's change notifications into queued
// refresh tasks. Notify runs on whatever goroutine the automation layer
// delivers events from; it does nothing beyond an O(1) non-blocking enqueue,
// so it can never stall the host's event dispatch. It must never touch the
// automation session itself.
type Bridge struct {
	queue         *TaskQueue
	notifications atomic.Uint64
}

func newBridge(q *TaskQueue) *Bridge {
	return &Bridge{queue: q}
}

// Notify is the subscription handler passed to automation.Session.Subscribe.
func (b *Bridge) Notify() {
	b.notifications.Add(1)
	b.queue.Enqueue(domain.Task{Kind: domain.TaskRefreshPosition})
}

// Notifications returns how many change notifications have arrived.
func (b *Bridge) Notifications() uint64 {
	return b.notifications.Load()
}
