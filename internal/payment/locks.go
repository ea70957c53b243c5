package payment

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
)

// keyedMutex serializes work per transaction id. Entries are dropped once the
// last holder releases them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// idGenerator hands out {PREFIX}{unix millis} ids that never repeat within
// the process, even when two transactions start in the same millisecond.
type idGenerator struct {
	mu    sync.Mutex
	clock clockwork.Clock
	last  int64
}

func newIDGenerator(clock clockwork.Clock) *idGenerator {
	return &idGenerator{clock: clock}
}

func (g *idGenerator) Next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.clock.Now().UnixMilli()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return fmt.Sprintf("%s%d", prefix, n)
}
