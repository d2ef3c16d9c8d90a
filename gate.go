package eventpoll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// waitGate parks consumers while nothing is ready.
//
// It behaves as a condition variable with broadcast semantics, where waking
// is performed by closing the current channel and replacing it. Unlike
// sync.Cond, waits may be bounded by a timer or a context.
//
// The waiters count is incremented before the ready condition is checked,
// and signal checks it after the condition has been made true, so at least
// one side always observes the other (no lost wakeups). The channel is
// captured in the same critical section as the check.
type waitGate struct {
	ch      chan struct{}
	mu      sync.Mutex
	waiters atomic.Int32
	closed  bool
}

func newWaitGate() waitGate {
	return waitGate{ch: make(chan struct{})}
}

// signal wakes every parked waiter. It is cheap when nobody is waiting.
// Must be called after the ready condition has been published.
func (x *waitGate) signal() bool {
	if x.waiters.Load() == 0 {
		return false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return false
	}
	close(x.ch)
	x.ch = make(chan struct{})
	return true
}

// close permanently wakes all current and future waiters.
func (x *waitGate) close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.closed {
		x.closed = true
		close(x.ch)
	}
}

// wait blocks until ready returns true, the gate is closed, the timeout
// elapses, or ctx is done (ctx may be nil). A negative timeout means no
// bound, zero means poll.
func (x *waitGate) wait(ctx context.Context, timeout time.Duration, ready func() bool) (WaitOutcome, error) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		doneCh  <-chan struct{}
	)
	if ctx != nil {
		doneCh = ctx.Done()
	}

	for {
		x.mu.Lock()
		x.waiters.Add(1)
		if ready() {
			x.waiters.Add(-1)
			x.mu.Unlock()
			return Ready, nil
		}
		if x.closed {
			x.waiters.Add(-1)
			x.mu.Unlock()
			return TimedOut, ErrClosed
		}
		if timeout == 0 {
			x.waiters.Add(-1)
			x.mu.Unlock()
			return TimedOut, nil
		}
		ch := x.ch
		x.mu.Unlock()

		if timeout > 0 && timer == nil {
			timer = time.NewTimer(timeout)
			//goland:noinspection GoDeferInLoop
			defer timer.Stop()
			timerCh = timer.C
		}

		var expired bool
		select {
		case <-ch:
		case <-timerCh:
			expired = true
		case <-doneCh:
			x.waiters.Add(-1)
			if ready() {
				return Ready, nil
			}
			return TimedOut, ctx.Err()
		}
		x.waiters.Add(-1)

		if expired {
			// one last look, the deadline and a notification may have raced
			if ready() {
				return Ready, nil
			}
			return TimedOut, nil
		}
		// woken, possibly spuriously or beaten by another consumer: recheck
	}
}
