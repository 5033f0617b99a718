package speech

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWorkQueueSentinelOnce(t *testing.T) {
	q := newWorkQueue()
	if !q.putSentinel() {
		t.Fatal("expected first sentinel to be queued")
	}
	if q.putSentinel() {
		t.Fatal("queue must hold at most one sentinel")
	}
	item, ok := q.get(10 * time.Millisecond)
	if !ok || !item.sentinel {
		t.Fatalf("expected sentinel, got %+v ok=%v", item, ok)
	}
	if _, ok := q.get(10 * time.Millisecond); ok {
		t.Fatal("expected timeout on empty queue")
	}
}

func TestWorkQueueJoinBarrier(t *testing.T) {
	q := newWorkQueue()
	if err := q.wait(context.Background()); err != nil {
		t.Fatalf("empty queue should not block: %v", err)
	}

	q.put(Request{ID: "a"})
	q.put(Request{ID: "b"})
	if q.depth() != 2 || q.outstanding() != 2 {
		t.Fatalf("expected depth 2, got %d", q.depth())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait to block, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, ok := q.get(time.Millisecond); !ok {
			t.Fatal("expected item")
		}
		q.done()
	}
	if err := q.wait(context.Background()); err != nil {
		t.Fatalf("expected wait to return after done: %v", err)
	}
}

func TestWorkQueueGetWakesOnPut(t *testing.T) {
	q := newWorkQueue()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.put(Request{ID: "late"})
	}()
	item, ok := q.get(time.Second)
	if !ok || item.req.ID != "late" {
		t.Fatalf("expected late item, got %+v ok=%v", item, ok)
	}
}

func TestWorkQueueCloseReturnsLeftovers(t *testing.T) {
	q := newWorkQueue()
	q.put(Request{ID: "a"})
	q.putSentinel()
	q.put(Request{ID: "b"})

	left := q.close()
	if len(left) != 2 || left[0].ID != "a" || left[1].ID != "b" {
		t.Fatalf("unexpected leftovers %+v", left)
	}
	if q.put(Request{ID: "c"}) {
		t.Fatal("closed queue must reject puts")
	}
	if !q.empty() {
		t.Fatal("expected empty queue after close")
	}
}
