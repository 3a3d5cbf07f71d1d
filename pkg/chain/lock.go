package chain

import (
	"sync"
	"sync/atomic"
)

// Mutex is a mutual exclusion lock whose hold state can be asserted.
// The chain lock and the safe-mode fork-table lock are both of this kind:
// public operations document which locks the caller must hold, and entry
// points verify the contract with AssertHeld.
type Mutex struct {
	mu   sync.Mutex
	held atomic.Bool
}

// Lock acquires the mutex.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.held.Store(true)
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	m.held.Store(false)
	m.mu.Unlock()
}

// AssertHeld panics if the mutex is not currently held.
// A violation is a programmer bug, not a runtime error.
func (m *Mutex) AssertHeld() {
	if !m.held.Load() {
		panic("chain: lock not held")
	}
}
