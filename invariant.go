package eventpoll

import (
	"fmt"
)

// invariantError is the panic value for broken internal invariants.
type invariantError struct {
	format string
	args   []any
}

func (e invariantError) Error() string {
	return `eventpoll: invariant violated: ` + fmt.Sprintf(e.format, e.args...)
}

// checkInvariants cross-checks the ready queue against the registry, holding
// both locks in the standard order. It is intended for tests, and is O(n).
func (x *EventPoll) checkInvariants() error {
	x.registry.mu.RLock()
	defer x.registry.mu.RUnlock()
	x.ready.lock.Lock()
	defer x.ready.lock.Unlock()

	linked := make(map[*item]struct{}, x.ready.count)
	var n int
	for it := x.ready.head; it != nil; it = it.next {
		if _, ok := linked[it]; ok {
			return fmt.Errorf(`ready queue cycle or duplicate at id %d`, it.id)
		}
		linked[it] = struct{}{}
		n++
		if !it.ready {
			return fmt.Errorf(`linked item %d not flagged ready`, it.id)
		}
		if got, ok := x.registry.lookup(it.id); !ok || got != it {
			return fmt.Errorf(`linked item %d not registered`, it.id)
		}
		if it.pending&^it.interest != 0 {
			return fmt.Errorf(`item %d pending %s outside interest %s`, it.id, it.pending, it.interest)
		}
		if it.next == nil && it != x.ready.tail {
			return fmt.Errorf(`ready queue tail mismatch at id %d`, it.id)
		}
	}
	if n != x.ready.count {
		return fmt.Errorf(`ready queue counter %d != linked %d`, x.ready.count, n)
	}
	if int64(n) != x.ready.size.Load() {
		return fmt.Errorf(`ready queue published size %d != linked %d`, x.ready.size.Load(), n)
	}

	var err error
	x.registry.ascend(func(it *item) bool {
		if _, ok := linked[it]; it.ready != ok {
			err = fmt.Errorf(`item %d ready=%v linked=%v`, it.id, it.ready, ok)
			return false
		}
		if !it.ready && it.pending != 0 {
			err = fmt.Errorf(`item %d has pending %s while not ready`, it.id, it.pending)
			return false
		}
		return true
	})
	return err
}
