// Package keyed provides lock striping: mutations on the same key are
// serialized while unrelated keys usually proceed in parallel.
package keyed

import (
	"hash/fnv"
	"sync"
)

// DefaultStripes is the stripe count used when New is given n <= 0.
const DefaultStripes = 64

// Mutex is a fixed set of mutexes selected by key hash.
type Mutex struct {
	stripes []sync.Mutex
}

// New creates a striped mutex with n stripes.
func New(n int) *Mutex {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Mutex{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (m *Mutex) Lock(key string) func() {
	mu := &m.stripes[Index(key, len(m.stripes))]
	mu.Lock()
	return mu.Unlock
}

// Index maps key onto [0, n).
func Index(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
