package eventpoll

import (
	"sync/atomic"
)

// readyQueue is an intrusive FIFO of items with pending events.
//
// All fields except size are guarded by lock. The size field mirrors count,
// and is only written holding lock, so the wait gate can read it without
// taking lock.
type readyQueue struct {
	head, tail *item
	count      int
	size       atomic.Int64
	lock       spinLock
}

// push merges events into it, linking it at the tail if it is not already
// present. Must be called holding lock. Returns true if it was newly linked.
func (x *readyQueue) push(it *item, events Events) bool {
	it.pending |= events
	if it.ready {
		return false
	}
	it.ready = true
	it.prev = x.tail
	it.next = nil
	if x.tail != nil {
		x.tail.next = it
	} else {
		x.head = it
	}
	x.tail = it
	x.count++
	x.size.Store(int64(x.count))
	return true
}

// unlink must be called holding lock, with it linked.
func (x *readyQueue) unlink(it *item) {
	if !it.ready {
		invariantViolated(`unlink of unqueued item %d`, it.id)
	}
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		x.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		x.tail = it.prev
	}
	it.prev = nil
	it.next = nil
	it.ready = false
	it.pending = 0
	x.count--
	if x.count < 0 {
		invariantViolated(`ready queue count underflow`)
	}
	x.size.Store(int64(x.count))
}

// remove unlinks it if present. Must be called holding lock.
func (x *readyQueue) remove(it *item) bool {
	if !it.ready {
		return false
	}
	x.unlink(it)
	return true
}

// drain pops up to len(dst) items from the head, in FIFO order, writing
// their events to dst. It takes lock. OneShot items are disarmed.
func (x *readyQueue) drain(dst []Event) int {
	if len(dst) == 0 {
		return 0
	}

	x.lock.Lock()
	defer x.lock.Unlock()

	var n int
	for n < len(dst) && x.head != nil {
		it := x.head
		events := it.pending
		if events&^it.interest != 0 {
			invariantViolated(`item %d pending %s outside interest %s`, it.id, events, it.interest)
		}
		x.unlink(it)
		if events == 0 {
			continue
		}
		if it.mode.OneShot() {
			it.disarmed = true
		}
		dst[n] = Event{ID: it.id, Events: events}
		n++
	}
	return n
}

// len may be called without holding lock.
func (x *readyQueue) len() int { return int(x.size.Load()) }

// reset unlinks everything. Must be called holding lock.
func (x *readyQueue) reset() {
	for x.head != nil {
		x.unlink(x.head)
	}
}
