package config

import (
	"sync/atomic"
)

// Gate tracks whether this node has ever successfully loaded a complete
// security configuration. The transition is one-way: once initialized, a
// node never reports uninitialized again while the process is running.
type Gate struct {
	initialized atomic.Bool
}

// NewGate returns a closed gate
func NewGate() *Gate {
	return &Gate{}
}

// TryInitialize flips the gate from uninitialized to initialized. It returns
// true only for the single caller that performed the transition, so
// first-initialization side effects run at most once.
func (g *Gate) TryInitialize() bool {
	return g.initialized.CompareAndSwap(false, true)
}

// IsInitialized reports whether the gate is open
func (g *Gate) IsInitialized() bool {
	return g.initialized.Load()
}
