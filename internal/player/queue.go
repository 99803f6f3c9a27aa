package player

import "sync"

// PendingQueue hands identities from the control loop to the reconciliation worker.
// Push appends; Pop removes the most recently pushed identity.
//
// All methods are safe for concurrent use.
type PendingQueue struct {
	mu    sync.Mutex
	items []Identity
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push appends id to the tail.
func (q *PendingQueue) Push(id Identity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, id)
}

// Pop removes and returns the tail.
//
// Postcondition: returns false when the queue is empty.
func (q *PendingQueue) Pop() (Identity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return Identity{}, false
	}
	id := q.items[n-1]
	q.items[n-1] = Identity{}
	q.items = q.items[:n-1]
	return id, true
}

// Len returns the number of queued identities.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
