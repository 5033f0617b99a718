package speech

import (
	"context"
	"sync"
	"time"
)

type workItem struct {
	req      Request
	sentinel bool
}

// workQueue is an unbounded FIFO with a shutdown sentinel and a join
// barrier. Every request put on the queue must be matched by one done call;
// the sentinel is not counted.
type workQueue struct {
	mu          sync.Mutex
	items       []workItem
	notify      chan struct{}
	pending     int
	idle        chan struct{}
	hasSentinel bool
	closed      bool
}

func newWorkQueue() *workQueue {
	idle := make(chan struct{})
	close(idle)
	return &workQueue{
		notify: make(chan struct{}, 1),
		idle:   idle,
	}
}

// put appends req. It reports false once the queue has been closed.
func (q *workQueue) put(req Request) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, workItem{req: req})
	q.pending++
	if q.pending == 1 {
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()
	q.signal()
	return true
}

// putSentinel enqueues the shutdown marker at most once.
func (q *workQueue) putSentinel() bool {
	q.mu.Lock()
	if q.hasSentinel || q.closed {
		q.mu.Unlock()
		return false
	}
	q.hasSentinel = true
	q.items = append(q.items, workItem{sentinel: true})
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *workQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// get waits up to timeout for the head of the queue.
func (q *workQueue) get(timeout time.Duration) (workItem, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = workItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return workItem{}, false
		}
	}
}

// done marks one request complete.
func (q *workQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// wait blocks until every request put so far has been marked done.
func (q *workQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *workQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// depth counts queued requests, excluding the sentinel.
func (q *workQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, item := range q.items {
		if !item.sentinel {
			n++
		}
	}
	return n
}

func (q *workQueue) outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// close rejects further puts and returns the requests still queued. The
// caller owns marking them done.
func (q *workQueue) close() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	var left []Request
	for _, item := range q.items {
		if !item.sentinel {
			left = append(left, item.req)
		}
	}
	q.items = nil
	return left
}
