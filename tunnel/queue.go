package tunnel

import "sync"

// Outbound is a queued message awaiting delivery.
type Outbound struct {
	ID       uint64
	Body     string
	Attempts int // Failed send attempts so far.
}

// Queue is the FIFO of outbound user messages. Entries leave the queue only after a
// confirmed send or once they exhaust their send attempts.
type Queue struct {
	mu     sync.Mutex
	items  []Outbound
	nextID uint64
}

// Push appends body; empty messages are rejected.
func (q *Queue) Push(body string) bool {
	if body == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.items = append(q.items, Outbound{ID: q.nextID, Body: body})
	return true
}

// Snapshot copies the pending messages in FIFO order.
func (q *Queue) Snapshot() []Outbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Outbound, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove deletes the message with the given id after a successful send.
func (q *Queue) Remove(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return true
}

// Fail records a failed attempt. Once attempts reach maxAttempts (when positive) the
// message is removed and dropped is true.
func (q *Queue) Fail(id uint64, maxAttempts int) (attempts int, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return 0, false
	}
	q.items[i].Attempts++
	attempts = q.items[i].Attempts
	if maxAttempts > 0 && attempts >= maxAttempts {
		q.items = append(q.items[:i], q.items[i+1:]...)
		return attempts, true
	}
	return attempts, false
}

func (q *Queue) indexLocked(id uint64) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}
