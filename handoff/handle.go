package handoff

import (
	"context"
	"errors"
	"fmt"
)

// Handle observes and stops a running producer.
type Handle interface {
	// Running reports whether the producer is still alive. Never blocks.
	Running() bool
	// Cancel asks the producer to stop. It does not wait.
	Cancel()
	// Done is closed once the producer has terminated.
	Done() <-chan struct{}
	// Err is the reason the producer terminated on its own, or nil when
	// it was cancelled or is still running.
	Err() error
}

// Routine is a Handle for a producer running on its own goroutine.
type Routine struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Go starts fn on a new goroutine. fn must return once its context is
// cancelled. A panic in fn terminates the producer with an error instead
// of crashing the program.
func Go(ctx context.Context, fn func(context.Context) error) *Routine {
	ctx, cancel := context.WithCancel(ctx)
	r := &Routine{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		defer func() {
			if p := recover(); p != nil {
				r.err = fmt.Errorf("producer panicked: %v", p)
			}
		}()
		err := fn(ctx)
		if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
			err = nil
		} else if err == nil {
			err = errors.New("producer stopped unexpectedly")
		}
		r.err = err
		cancel()
	}()
	return r
}

func (r *Routine) Running() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Routine) Cancel() { r.cancel() }

func (r *Routine) Done() <-chan struct{} { return r.done }

func (r *Routine) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
