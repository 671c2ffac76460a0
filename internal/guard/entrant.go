package guard

import (
	"errors"
	"sync/atomic"
)

// ErrReentrantCall is returned when an operation is attempted while another
// state-mutating operation is still in flight.
var ErrReentrantCall = errors.New("reentrant call rejected")

// ReentrancyGuard is a system-wide single-entrant lock around operations
// that perform external value transfers. A nested acquisition attempt fails
// immediately; there is no waiting and no queuing.
type ReentrancyGuard struct {
	busy int32 // atomic
}

// NewReentrancyGuard returns an unheld guard.
func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{}
}

// Enter acquires the guard or fails with ErrReentrantCall.
func (g *ReentrancyGuard) Enter() error {
	if !atomic.CompareAndSwapInt32(&g.busy, 0, 1) {
		return ErrReentrantCall
	}
	return nil
}

// Exit releases the guard. It must be called on every exit path of an
// operation that entered, success or failure.
func (g *ReentrancyGuard) Exit() {
	atomic.StoreInt32(&g.busy, 0)
}

// Held reports whether an operation is currently in flight.
func (g *ReentrancyGuard) Held() bool {
	return atomic.LoadInt32(&g.busy) == 1
}
