package extension

import (
	"fmt"
	"sync"

	"github.com/bram-dingelstad/helix/sdk"
	"github.com/bram-dingelstad/helix/transfer"
)

// Policy selects which pending callback of an extension is drained next.
type Policy int

const (
	// FIFO drains callbacks in submission order.
	FIFO Policy = iota
	// LIFO drains the most recent submission first.
	LIFO
)

func (p Policy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// pendingQueue is the per-extension callback queue. Any goroutine may push;
// only the host pops.
type pendingQueue struct {
	mu     sync.Mutex
	policy Policy
	items  []*transfer.Ticket[sdk.Callback]
	closed bool
}

func newPendingQueue(policy Policy) *pendingQueue {
	return &pendingQueue{policy: policy}
}

func (q *pendingQueue) push(t *transfer.Ticket[sdk.Callback]) error {
	if t == nil {
		return ErrNilTicket
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, t)
	return nil
}

func (q *pendingQueue) pop() (*transfer.Ticket[sdk.Callback], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return nil, false
	}
	var t *transfer.Ticket[sdk.Callback]
	if q.policy == LIFO {
		t = q.items[n-1]
		q.items[n-1] = nil
		q.items = q.items[:n-1]
	} else {
		t = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	if len(q.items) == 0 {
		q.items = nil
	}
	return t, true
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes. Items already queued stay drainable.
func (q *pendingQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
