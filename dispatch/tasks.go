package dispatch

import (
	"context"
	"sync/atomic"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// taskSet tracks in-flight delivery tasks by id. It is owned by the loop
// goroutine; only the size is safe to read from elsewhere.
type taskSet struct {
	next  uint64
	tasks map[uint64]*task
	size  atomic.Int64
}

// launch runs fn on its own goroutine with a cancellable child of parent.
func (s *taskSet) launch(parent context.Context, fn func(context.Context)) uint64 {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.next++
	id := s.next
	s.tasks[id] = t
	s.size.Add(1)

	go func() {
		defer close(t.done)
		fn(ctx)
	}()
	return id
}

// reap forgets finished tasks and returns how many there were.
func (s *taskSet) reap() int {
	n := 0
	for id, t := range s.tasks {
		select {
		case <-t.done:
			t.cancel()
			delete(s.tasks, id)
			n++
		default:
		}
	}
	s.size.Add(int64(-n))
	return n
}

// cancelAll signals every tracked task to stop and forgets them without
// waiting. It returns how many were still running.
func (s *taskSet) cancelAll() int {
	n := 0
	for id, t := range s.tasks {
		select {
		case <-t.done:
		default:
			n++
		}
		t.cancel()
		delete(s.tasks, id)
	}
	s.size.Store(0)
	return n
}

func (s *taskSet) len() int {
	return int(s.size.Load())
}
