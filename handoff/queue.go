// Package handoff carries normalized readings from the producer to the
// dispatch loop and exposes the producer's liveness.
//
// The producer runs either in a child process, writing a CBOR stream on
// its stdout, or in a goroutine writing straight into a Queue. Either
// way the dispatch side sees a Queue plus a Handle, and the two are
// independent: an empty queue says nothing about whether the producer
// is still running.
package handoff

import (
	"sync"

	"github.com/Uranury/ruuvi-lapio/reading"
)

// Queue is an unbounded FIFO of readings, safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []reading.Normalized
	head  int
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends r. It never blocks and never fails; the error return lets
// a Queue serve as a producer sink.
func (q *Queue) Push(r reading.Normalized) error {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	return nil
}

// Pop removes and returns the oldest reading, or false when empty.
func (q *Queue) Pop() (reading.Normalized, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return reading.Normalized{}, false
	}
	r := q.items[q.head]
	q.items[q.head] = reading.Normalized{}
	q.head++

	// reclaim the consumed prefix once it dominates the slice
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return r, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
