package warehouse

import (
	"strconv"
	"sync/atomic"

	"github.com/moby/locker"
)

// keyedMutex serialises work per product id. moby/locker drops an id's entry
// once nobody holds or waits for it.
type keyedMutex struct {
	l        *locker.Locker
	inflight atomic.Int64
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{l: locker.New()}
}

// Lock blocks until id is held and returns the matching unlock func.
func (k *keyedMutex) Lock(id int64) func() {
	name := strconv.FormatInt(id, 10)
	k.inflight.Add(1)
	k.l.Lock(name)
	return func() {
		_ = k.l.Unlock(name)
		k.inflight.Add(-1)
	}
}

// size counts callers holding or waiting for any id.
func (k *keyedMutex) size() int {
	return int(k.inflight.Load())
}
