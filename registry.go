package eventpoll

import (
	"sync"

	"github.com/google/btree"
)

// registryDegree is the btree degree, chosen for small nodes, since the
// registry is typically read far more often than it is modified.
const registryDegree = 16

type (
	// item is the record for one registered descriptor.
	//
	// Fields are guarded as follows:
	//   - id is immutable
	//   - interest and mode are written holding both locks, and may be read
	//     holding either
	//   - everything else is guarded by readyQueue.lock
	item struct {
		prev, next *item
		id         int
		interest   Events
		pending    Events
		mode       Mode
		ready      bool
		// disarmed is set on OneShot items after delivery, cleared by Modify
		disarmed bool
	}

	// registryEntry is the tree element, a value type so lookups by id
	// don't allocate.
	registryEntry struct {
		item *item
		id   int
	}

	// registry is the interest registry, keyed by id.
	registry struct {
		tree *btree.BTreeG[registryEntry]
		mu   sync.RWMutex
	}
)

func registryEntryLess(a, b registryEntry) bool { return a.id < b.id }

func newRegistry() registry {
	return registry{tree: btree.NewG[registryEntry](registryDegree, registryEntryLess)}
}

// lookup must be called holding mu (read or write).
func (x *registry) lookup(id int) (*item, bool) {
	v, ok := x.tree.Get(registryEntry{id: id})
	return v.item, ok
}

// insert must be called holding mu for writing.
// Returns false if the id is already present, in which case nothing changes.
func (x *registry) insert(it *item) bool {
	if x.tree.Has(registryEntry{id: it.id}) {
		return false
	}
	if _, replaced := x.tree.ReplaceOrInsert(registryEntry{id: it.id, item: it}); replaced {
		invariantViolated(`registry replaced id %d`, it.id)
	}
	return true
}

// remove must be called holding mu for writing.
func (x *registry) remove(id int) (*item, bool) {
	v, ok := x.tree.Delete(registryEntry{id: id})
	return v.item, ok
}

// len must be called holding mu (read or write).
func (x *registry) len() int { return x.tree.Len() }

// ascend visits every item in id order, and must be called holding mu.
func (x *registry) ascend(fn func(it *item) bool) {
	x.tree.Ascend(func(v registryEntry) bool { return fn(v.item) })
}

// clear must be called holding mu for writing.
func (x *registry) clear() { x.tree.Clear(false) }
