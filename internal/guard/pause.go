package guard

import (
	"errors"
	"sync/atomic"
)

// ErrPaused is returned to non-admin callers while the gate is paused.
var ErrPaused = errors.New("vault is paused")

// PauseGate is the global switch for state-mutating operations.
//
// Pausing while already paused is permitted and is not an error; callers
// re-emit the pause notification. This keeps the transition deterministic
// without forcing idempotency onto operators.
type PauseGate struct {
	paused int32 // atomic
}

// NewPauseGate returns an active (unpaused) gate.
func NewPauseGate() *PauseGate {
	return &PauseGate{}
}

// Pause switches the gate to the paused state.
func (g *PauseGate) Pause() {
	atomic.StoreInt32(&g.paused, 1)
}

// Unpause switches the gate back to the active state.
func (g *PauseGate) Unpause() {
	atomic.StoreInt32(&g.paused, 0)
}

// Paused reports whether the gate is paused.
func (g *PauseGate) Paused() bool {
	return atomic.LoadInt32(&g.paused) == 1
}

// Check rejects mutation attempts while paused. Principals holding the
// admin role bypass the gate.
func (g *PauseGate) Check(admin bool) error {
	if g.Paused() && !admin {
		return ErrPaused
	}
	return nil
}
