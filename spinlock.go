package eventpoll

import (
	"runtime"
	"sync/atomic"
)

// spinLockAttempts is the number of busy attempts before yielding.
const spinLockAttempts = 64

// spinLock is a minimal test-and-test-and-set lock, for very short critical
// sections that never block, allocate, or call out.
type spinLock struct {
	state atomic.Uint32
}

func (x *spinLock) Lock() {
	for i := 0; ; i++ {
		if x.state.Load() == 0 && x.state.CompareAndSwap(0, 1) {
			return
		}
		if i >= spinLockAttempts {
			runtime.Gosched()
			i = 0
		}
	}
}

func (x *spinLock) Unlock() {
	if x.state.Swap(0) != 1 {
		panic(`eventpoll: unlock of unlocked spinLock`)
	}
}
