package turn

import (
	"context"
	"sync/atomic"
)

// Signal is a one-shot cancellation handle. Set is idempotent; adapters
// observe it through the derived context at every yield point.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
	set    atomic.Bool
}

func NewSignal(parent context.Context) *Signal {
	ctx, cancel := context.WithCancel(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Set fires the signal. Once set, it stays set for the life of the turn.
func (s *Signal) Set() {
	s.set.Store(true)
	s.cancel()
}

func (s *Signal) IsSet() bool { return s.set.Load() }

// Context is the abort handle handed to streaming adapters.
func (s *Signal) Context() context.Context { return s.ctx }

func (s *Signal) Done() <-chan struct{} { return s.ctx.Done() }
