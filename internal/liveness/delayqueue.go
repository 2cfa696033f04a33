package liveness

import (
	"sync"

	"github.com/basket/go-claw/internal/gateway"
)

// DelayQueue holds non-critical messages destined for "main" while a
// FailoverEvent is active, for replay after failback (spec §4.5 step 2/4).
// Every queued message was originally addressed to "main" — that is the
// only destination this queue ever holds — so replay always resubmits to
// "main", never to whichever agent happened to be in the routing path.
// Safe for concurrent use: the gateway's inbound handler enqueues from an
// HTTP goroutine while the failback path drains from the health-check
// handler's goroutine.
type DelayQueue struct {
	mu    sync.Mutex
	items []gateway.DelegationMessage
}

// NewDelayQueue constructs an empty DelayQueue.
func NewDelayQueue() *DelayQueue {
	return &DelayQueue{}
}

// Enqueue appends a message for later replay.
func (q *DelayQueue) Enqueue(msg gateway.DelegationMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
}

// Len reports how many messages are queued.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued message, in FIFO order.
func (q *DelayQueue) Drain() []gateway.DelegationMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
