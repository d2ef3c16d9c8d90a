// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventpoll

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

type (
	// Notifier is implemented by the readiness registry, and called by
	// transports, whenever a descriptor's state changes in a way relevant to
	// readiness. See the package documentation for the contract, which
	// depends on the registration's Mode.
	Notifier interface {
		NotifyReady(id int, events Events) error
	}

	// Registrar extends Notifier with registration management.
	Registrar interface {
		Notifier
		Register(id int, events Events, mode Mode) error
		Modify(id int, events Events, mode Mode) error
		Unregister(id int) error
	}

	// Interest describes a single registration.
	Interest struct {
		ID     int
		Events Events
		Mode   Mode
	}

	// EventPoll is a user-space readiness registry, safe for concurrent use
	// by any number of producers and consumers. Instances must be
	// initialized using New.
	//
	// Lock order: registry.mu, then ready.lock. The gate is only ever
	// signalled after both have been released.
	EventPoll struct {
		logger   *logiface.Logger[logiface.Event]
		limiter  *catrate.Limiter
		registry registry
		ready    readyQueue
		gate     waitGate
		stats    counters
		closed   atomic.Bool
	}
)

// warning categories, used for rate limiting
const (
	categoryNotifyUnregistered = `notify-unregistered`
)

var (
	// compile time assertions

	_ Registrar = (*EventPoll)(nil)
)

// New initializes a new EventPoll.
func New(opts ...Option) (*EventPoll, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &EventPoll{
		logger:   cfg.logger,
		limiter:  cfg.limiter,
		registry: newRegistry(),
		gate:     newWaitGate(),
	}, nil
}

// Register adds id to the interest registry. It fails with
// ErrAlreadyRegistered if id is already present, or ErrInvalidArgument if
// events is empty or contains unsupported bits, or mode is invalid.
func (x *EventPoll) Register(id int, events Events, mode Mode) error {
	if !events.Valid() || !mode.Valid() {
		return fmt.Errorf(`%w: register %d: events=%s mode=%s`, ErrInvalidArgument, id, events, mode)
	}

	it := &item{id: id, interest: events, mode: mode}

	x.registry.mu.Lock()
	if x.closed.Load() {
		x.registry.mu.Unlock()
		return ErrClosed
	}
	ok := x.registry.insert(it)
	x.registry.mu.Unlock()

	if !ok {
		return ErrAlreadyRegistered
	}

	x.logger.Debug().
		Int(`id`, id).
		Stringer(`events`, events).
		Stringer(`mode`, mode).
		Log(`registered`)

	return nil
}

// Modify replaces the interest mask and mode of a registered id, and re-arms
// OneShot registrations. Pending events that are no longer of interest are
// discarded, and if none remain, the id is removed from the ready queue.
func (x *EventPoll) Modify(id int, events Events, mode Mode) error {
	if !events.Valid() || !mode.Valid() {
		return fmt.Errorf(`%w: modify %d: events=%s mode=%s`, ErrInvalidArgument, id, events, mode)
	}

	x.registry.mu.Lock()
	defer x.registry.mu.Unlock()

	if x.closed.Load() {
		return ErrClosed
	}

	it, ok := x.registry.lookup(id)
	if !ok {
		return ErrNotRegistered
	}

	x.ready.lock.Lock()
	it.interest = events
	it.mode = mode
	it.disarmed = false
	if it.ready {
		it.pending &= events
		if it.pending == 0 {
			x.ready.unlink(it)
		}
	}
	x.ready.lock.Unlock()

	x.logger.Debug().
		Int(`id`, id).
		Stringer(`events`, events).
		Stringer(`mode`, mode).
		Log(`modified`)

	return nil
}

// Unregister removes id from the interest registry, and from the ready
// queue, if it is present. It fails with ErrNotRegistered if id is not
// registered.
func (x *EventPoll) Unregister(id int) error {
	x.registry.mu.Lock()
	if x.closed.Load() {
		x.registry.mu.Unlock()
		return ErrClosed
	}
	it, ok := x.registry.remove(id)
	var queued bool
	if ok {
		x.ready.lock.Lock()
		queued = x.ready.remove(it)
		x.ready.lock.Unlock()
	}
	x.registry.mu.Unlock()

	if !ok {
		return ErrNotRegistered
	}

	x.logger.Debug().
		Int(`id`, id).
		Bool(`queued`, queued).
		Log(`unregistered`)

	return nil
}

// NotifyReady records that events are signalled for id. Events outside the
// registration's interest mask are discarded. If id is already in the ready
// queue, the events are merged into its existing entry, otherwise it is
// appended, and any waiting consumers are woken.
//
// It fails with ErrNotRegistered if id is not registered, which is expected
// if a producer races with Unregister, and ErrInvalidArgument if events is
// empty or contains unsupported bits.
func (x *EventPoll) NotifyReady(id int, events Events) error {
	if !events.Valid() {
		return fmt.Errorf(`%w: notify %d: events=%s`, ErrInvalidArgument, id, events)
	}

	x.registry.mu.RLock()

	if x.closed.Load() {
		x.registry.mu.RUnlock()
		return ErrClosed
	}

	it, ok := x.registry.lookup(id)
	if !ok {
		x.registry.mu.RUnlock()
		x.stats.unregistered.Add(1)
		if b := x.warning(categoryNotifyUnregistered); b != nil {
			b.Int(`id`, id).
				Stringer(`events`, events).
				Log(`notify for unregistered id`)
		}
		return ErrNotRegistered
	}

	x.stats.notifications.Add(1)

	events &= it.interest
	if events == 0 {
		x.registry.mu.RUnlock()
		x.stats.filtered.Add(1)
		return nil
	}

	var linked, suppressed bool
	x.ready.lock.Lock()
	if it.disarmed {
		suppressed = true
	} else {
		linked = x.ready.push(it, events)
	}
	x.ready.lock.Unlock()

	x.registry.mu.RUnlock()

	switch {
	case suppressed:
		x.stats.suppressed.Add(1)
	case !linked:
		x.stats.coalesced.Add(1)
	case x.gate.signal():
		x.stats.wakeups.Add(1)
	}

	return nil
}

// Wait blocks until at least one id is ready, or timeout elapses. A timeout
// of zero polls without blocking, and a negative timeout (see Infinite)
// waits with no upper bound. Returns ErrClosed if the EventPoll is closed.
//
// A Ready outcome does not guarantee a subsequent Drain will return events,
// as other consumers may drain first.
func (x *EventPoll) Wait(timeout time.Duration) (WaitOutcome, error) {
	return x.wait(nil, timeout)
}

// WaitContext is like Wait with no timeout, but also returns ctx.Err() if
// ctx is done before anything is ready.
func (x *EventPoll) WaitContext(ctx context.Context) (WaitOutcome, error) {
	if ctx == nil {
		panic(`eventpoll: nil context`)
	}
	return x.wait(ctx, Infinite)
}

func (x *EventPoll) wait(ctx context.Context, timeout time.Duration) (WaitOutcome, error) {
	outcome, err := x.gate.wait(ctx, timeout, x.hasReady)
	if err == nil && outcome == TimedOut {
		x.stats.timeouts.Add(1)
		x.logger.Trace().
			Dur(`timeout`, timeout).
			Log(`wait timed out`)
	}
	return outcome, err
}

func (x *EventPoll) hasReady() bool { return x.ready.len() > 0 }

// DrainInto removes up to len(dst) ready events, in the order the ids first
// became ready, returning the number written to dst. Each drained id must be
// notified again before it will be returned again.
func (x *EventPoll) DrainInto(dst []Event) int {
	n := x.ready.drain(dst)
	if n != 0 {
		x.stats.drained.Add(uint64(n))
	}
	return n
}

// Drain is like DrainInto, but allocates the result, of at most limit
// events. If limit <= 0, or nothing is ready, it returns nil, without side
// effects.
func (x *EventPoll) Drain(limit int) []Event {
	limit = min(limit, x.ready.len())
	if limit <= 0 {
		return nil
	}
	dst := make([]Event, limit)
	if n := x.DrainInto(dst); n != 0 {
		return dst[:n]
	}
	return nil
}

// WaitEvents combines Wait and DrainInto, in the manner of epoll_wait(2).
// It returns once at least one event has been written to dst, or timeout
// elapses (returning 0). If a competing consumer drains the events first,
// it keeps waiting, within the original timeout. An empty dst results in
// ErrInvalidArgument.
func (x *EventPoll) WaitEvents(dst []Event, timeout time.Duration) (int, error) {
	if len(dst) == 0 {
		return 0, fmt.Errorf(`%w: empty event buffer`, ErrInvalidArgument)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	remaining := timeout
	for {
		outcome, err := x.wait(nil, remaining)
		if err != nil {
			return 0, err
		}
		if outcome == TimedOut {
			return 0, nil
		}
		if n := x.DrainInto(dst); n != 0 {
			return n, nil
		}
		if timeout == 0 {
			return 0, nil
		}
		if timeout > 0 {
			if remaining = time.Until(deadline); remaining <= 0 {
				return 0, nil
			}
		}
	}
}

// Len returns the number of ids currently in the ready queue.
func (x *EventPoll) Len() int { return x.ready.len() }

// Interests returns a snapshot of all registrations, ordered by id.
func (x *EventPoll) Interests() []Interest {
	x.registry.mu.RLock()
	defer x.registry.mu.RUnlock()
	if x.registry.len() == 0 {
		return nil
	}
	interests := make([]Interest, 0, x.registry.len())
	x.registry.ascend(func(it *item) bool {
		interests = append(interests, Interest{ID: it.id, Events: it.interest, Mode: it.mode})
		return true
	})
	return interests
}

// Close discards all registrations and pending events, and wakes all
// waiters, which return ErrClosed. Subsequent calls to most methods return
// ErrClosed. Close is idempotent, and always returns nil.
func (x *EventPoll) Close() error {
	x.registry.mu.Lock()
	if x.closed.Load() {
		x.registry.mu.Unlock()
		return nil
	}
	x.closed.Store(true)
	registered := x.registry.len()
	x.ready.lock.Lock()
	queued := x.ready.count
	x.ready.reset()
	x.ready.lock.Unlock()
	x.registry.clear()
	x.registry.mu.Unlock()

	x.gate.close()

	x.logger.Info().
		Int(`registered`, registered).
		Int(`queued`, queued).
		Log(`closed`)

	return nil
}

// warning returns a warning builder if logging is enabled, and the category
// is not currently rate limited, otherwise nil.
func (x *EventPoll) warning(category string) *logiface.Builder[logiface.Event] {
	b := x.logger.Warning()
	if !b.Enabled() {
		return nil
	}
	if _, ok := x.limiter.Allow(category); !ok {
		b.Release()
		return nil
	}
	return b.Str(`category`, category)
}
