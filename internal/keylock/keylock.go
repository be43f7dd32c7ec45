// Package keylock provides striped per-key mutual exclusion. All mutations to
// a single case's status and bid set must run under its key lock.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// KeyedMutex maps string keys onto a fixed set of mutex stripes. Two distinct
// keys may share a stripe; a key always maps to the same stripe.
type KeyedMutex struct {
	stripes []sync.Mutex
}

// New creates a KeyedMutex with the given number of stripes. Values below one
// fall back to the default.
func New(stripes int) *KeyedMutex {
	if stripes < 1 {
		stripes = defaultStripes
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

func (m *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}

// Lock acquires the stripe for key and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	mu := &m.stripes[m.index(key)]
	mu.Lock()
	return mu.Unlock
}
