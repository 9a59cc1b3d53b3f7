package updater

import (
	"slices"
	"sync"

	"github.com/starford/backlinks/internal/pageid"
)

// keyedMutex hands out one mutex per page id. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[pageid.ID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[pageid.ID]*refLock)}
}

// Lock acquires the locks for ids in sorted order and returns a func that
// releases them all.
func (k *keyedMutex) Lock(ids ...pageid.ID) (unlock func()) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*refLock, 0, len(keys))
	for _, id := range keys {
		k.mu.Lock()
		l, ok := k.locks[id]
		if !ok {
			l = &refLock{}
			k.locks[id] = l
		}
		l.refs++
		k.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, keys[i])
			}
			k.mu.Unlock()
		}
	}
}
