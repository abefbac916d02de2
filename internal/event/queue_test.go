// ABOUTME: Tests for the event queue
// ABOUTME: Tests FIFO delivery, non-blocking push and close behavior
package event

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	// Push far more than any channel buffer without a consumer
	for i := 0; i < 1000; i++ {
		q.Push(i)
	}

	for i := 0; i < 1000; i++ {
		select {
		case v := <-q.C():
			if v != i {
				t.Fatalf("expected %d, got %d", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", i)
		}
	}
}

func TestQueueCloseDropsPush(t *testing.T) {
	q := NewQueue[string]()
	q.Close()
	q.Close() // idempotent

	q.Push("late")
	if q.Len() != 0 {
		t.Errorf("expected push after close to be dropped, got len %d", q.Len())
	}
}

func TestQueueLen(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	q.Push(1)
	q.Push(2)

	// One value may already be held by the pump
	if n := q.Len(); n < 1 || n > 2 {
		t.Errorf("expected 1 or 2 pending values, got %d", n)
	}
}
