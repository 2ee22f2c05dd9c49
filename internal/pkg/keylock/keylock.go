// Package keylock provides named mutexes. The ledger uses one registry keyed
// by account ID to linearize all mutations of a single account, and the
// order book uses one keyed by partition to serialize book mutations per
// certificate-selection partition.
package keylock

import "sync"

// Registry hands out a mutex per key. Mutexes are created on first use and
// kept for the life of the registry; the key space (accounts, partitions) is
// small enough that no eviction is needed.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

func (r *Registry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Lock acquires the mutex for key and returns its unlock function.
func (r *Registry) Lock(key string) func() {
	m := r.get(key)
	m.Lock()
	return m.Unlock
}

// LockPair acquires both keys' mutexes in lexicographic order, so two
// settlements touching the same pair of accounts can never deadlock.
// Equal keys are locked once.
func (r *Registry) LockPair(a, b string) func() {
	if a == b {
		return r.Lock(a)
	}
	if b < a {
		a, b = b, a
	}
	first := r.get(a)
	second := r.get(b)
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}
