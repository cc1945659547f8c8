// Package dispatch drains the handoff queue and fans out one delivery
// task per reading until the producer stops.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Uranury/ruuvi-lapio/reading"
)

// DefaultPollInterval is how long the loop sleeps when the queue is
// empty.
const DefaultPollInterval = 100 * time.Millisecond

// Queue is the consumer side of the handoff queue.
type Queue interface {
	Pop() (reading.Normalized, bool)
}

// Producer reports whether the producer is still alive.
type Producer interface {
	Running() bool
}

// DeliverFunc sends one reading. Errors are logged by the loop.
type DeliverFunc func(ctx context.Context, r reading.Normalized) error

// Observer is told about every reading as it is dispatched. Observe is
// called on the loop goroutine and must not block.
type Observer interface {
	Observe(reading.Normalized)
}

// Loop is the single consumer of the handoff queue.
type Loop struct {
	Queue        Queue
	Producer     Producer
	Deliver      DeliverFunc
	Observers    []Observer
	PollInterval time.Duration
	Logger       *slog.Logger

	tasks      taskSet
	dispatched atomic.Uint64
	stopped    atomic.Bool
}

// Run polls until the producer is no longer running, then cancels every
// delivery still in flight and returns without waiting for them. Readings
// still queued at that point are not dispatched. ctx is the parent of
// every delivery's context.
func (l *Loop) Run(ctx context.Context) {
	interval := l.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	l.tasks.tasks = make(map[uint64]*task)
	l.Logger.Info("dispatch loop started", "poll_interval", interval)

	for {
		if !l.Producer.Running() {
			break
		}
		if r, ok := l.Queue.Pop(); ok {
			l.dispatch(ctx, r)
		} else {
			time.Sleep(interval)
		}
		l.tasks.reap()
	}

	cancelled := l.tasks.cancelAll()
	l.stopped.Store(true)
	l.Logger.Info("dispatch loop stopped", "dispatched", l.dispatched.Load(), "cancelled", cancelled)
}

func (l *Loop) dispatch(ctx context.Context, r reading.Normalized) {
	for _, o := range l.Observers {
		o.Observe(r)
	}
	l.dispatched.Add(1)
	l.tasks.launch(ctx, func(ctx context.Context) {
		defer func() {
			if p := recover(); p != nil {
				l.Logger.Error("delivery panicked", "mac", r.MAC, "panic", p)
			}
		}()

		err := l.Deliver(ctx, r)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			l.Logger.Debug("delivery abandoned", "mac", r.MAC, "error", err)
		default:
			l.Logger.Error("delivery failed", "mac", r.MAC, "error", err)
		}
	})
}

// InFlight is the number of tracked delivery tasks. Safe to call from
// any goroutine.
func (l *Loop) InFlight() int {
	return l.tasks.len()
}

// Dispatched is the number of readings handed to a delivery task so far.
func (l *Loop) Dispatched() uint64 {
	return l.dispatched.Load()
}

// Stopped reports whether Run has returned.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}
