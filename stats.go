package eventpoll

import (
	"sync/atomic"
)

// Stats is a point-in-time snapshot of an EventPoll's counters.
//
// Registered and Queued are gauges, the rest are monotonic counters.
// Fields are loaded independently, so a snapshot taken under concurrent use
// is not guaranteed to be mutually consistent.
type Stats struct {
	// Registered is the number of registered ids.
	Registered int
	// Queued is the number of ids in the ready queue.
	Queued int

	// Notifications counts NotifyReady calls that targeted a registered id.
	Notifications uint64
	// Coalesced counts notifications merged into an existing queue entry.
	Coalesced uint64
	// Filtered counts notifications discarded entirely by the interest mask.
	Filtered uint64
	// Suppressed counts notifications discarded because a OneShot
	// registration was disarmed.
	Suppressed uint64
	// Unregistered counts NotifyReady calls for ids not registered.
	Unregistered uint64
	// Drained counts events delivered to consumers.
	Drained uint64
	// Wakeups counts signals that woke at least one parked waiter.
	Wakeups uint64
	// Timeouts counts waits that ended with TimedOut.
	Timeouts uint64
}

// counters are the atomic backing for Stats.
type counters struct {
	notifications atomic.Uint64
	coalesced     atomic.Uint64
	filtered      atomic.Uint64
	suppressed    atomic.Uint64
	unregistered  atomic.Uint64
	drained       atomic.Uint64
	wakeups       atomic.Uint64
	timeouts      atomic.Uint64
}

// Stats returns a snapshot of the counters. It is safe to call at any time,
// including after Close.
func (x *EventPoll) Stats() Stats {
	x.registry.mu.RLock()
	registered := x.registry.len()
	x.registry.mu.RUnlock()
	return Stats{
		Registered:    registered,
		Queued:        x.ready.len(),
		Notifications: x.stats.notifications.Load(),
		Coalesced:     x.stats.coalesced.Load(),
		Filtered:      x.stats.filtered.Load(),
		Suppressed:    x.stats.suppressed.Load(),
		Unregistered:  x.stats.unregistered.Load(),
		Drained:       x.stats.drained.Load(),
		Wakeups:       x.stats.wakeups.Load(),
		Timeouts:      x.stats.timeouts.Load(),
	}
}
