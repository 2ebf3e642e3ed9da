package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chasmware/gangway/trampoline"
)

// timerTask is one scheduled guest callback. One-shot: the host reference
// is released after the callback fires.
type timerTask struct {
	id        uint32
	due       time.Time
	tr        *trampoline.Trampoline
	cancelled bool
}

// StartTimer implements hostfunc.Env. It wraps the guest closure in a
// trampoline and queues it; the callback fires during Drain, strictly
// after whichever guest call scheduled it has returned.
func (b *Bridge) StartTimer(a, w, dtor uint32, delay time.Duration) uint32 {
	b.nextTimer++
	task := &timerTask{
		id:  b.nextTimer,
		due: time.Now().Add(delay),
		tr:  b.NewCallback(a, w, dtor),
	}
	b.timers[task.id] = task
	b.queue = append(b.queue, task)
	b.log.Debug("timer scheduled",
		zap.Uint32("id", task.id), zap.Duration("delay", delay))
	return task.id
}

// ClearTimer implements hostfunc.Env. Cancelling releases the host's
// reference to the closure, which may run the guest destructor; the queued
// callback becomes inert.
func (b *Bridge) ClearTimer(ctx context.Context, id uint32) bool {
	task, ok := b.timers[id]
	if !ok {
		return false
	}
	delete(b.timers, id)
	task.cancelled = true
	if !task.tr.Retired() {
		if err := task.tr.Release(ctx); err != nil {
			b.log.Warn("timer closure release failed",
				zap.Uint32("id", id), zap.Error(err))
		}
	}
	return true
}

// Drain runs scheduled callbacks, in due order, until the queue is empty.
// Callbacks only ever run here, between guest calls, which is what makes
// the ordering guarantee hold: a callback scheduled during call A fires
// strictly after A returns, never interleaved inside it. Callbacks may
// schedule further callbacks; Drain keeps going until none remain or ctx
// is done.
func (b *Bridge) Drain(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	for {
		task := b.popNext()
		if task == nil {
			return nil
		}
		if task.cancelled {
			continue
		}
		if wait := time.Until(task.due); wait > 0 {
			select {
			case <-ctx.Done():
				// Put it back; the timer is still owed a firing.
				b.queue = append(b.queue, task)
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		delete(b.timers, task.id)

		if _, err := task.tr.Invoke(ctx, 0); err != nil {
			if errors.Is(err, trampoline.ErrRetired) {
				// Released after dequeue; the late callback is inert.
				continue
			}
			return fmt.Errorf("timer %d: %w", task.id, err)
		}
		if !task.tr.Retired() {
			if err := task.tr.Release(ctx); err != nil {
				return fmt.Errorf("timer %d release: %w", task.id, err)
			}
		}
	}
}

// PendingTimers reports how many callbacks are queued.
func (b *Bridge) PendingTimers() int {
	return len(b.timers)
}

// popNext removes and returns the earliest-due live task.
func (b *Bridge) popNext() *timerTask {
	best := -1
	for i, task := range b.queue {
		if task.cancelled {
			continue
		}
		if best == -1 || task.due.Before(b.queue[best].due) {
			best = i
		}
	}
	if best == -1 {
		b.queue = b.queue[:0]
		return nil
	}
	task := b.queue[best]
	b.queue = append(b.queue[:best], b.queue[best+1:]...)
	return task
}
