package engine

import "sync/atomic"

// Guard is the reentrancy lock around withdrawal paths. A withdrawal holds it
// across the external transfer-out call; any call that re-enters a guarded
// operation while it is held fails fast with ErrReentrant instead of
// interleaving with the in-progress withdrawal.
type Guard struct {
	held atomic.Bool
}

// Acquire takes the guard. The returned release function must be called on
// every exit path, typically via defer.
func (g *Guard) Acquire() (func(), error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	return func() { g.held.Store(false) }, nil
}

// Held reports whether a guarded operation is in progress.
func (g *Guard) Held() bool {
	return g.held.Load()
}
