package usecase

import (
	"sync"
	"sync/atomic"
)

// RunGuard holds one flag per job id. Acquiring is a compare-and-swap, so
// the poll loop and a manual trigger can never both start the same job.
type RunGuard struct {
	flags sync.Map
}

func NewRunGuard() *RunGuard {
	return &RunGuard{}
}

func (g *RunGuard) flag(id uint) *atomic.Bool {
	v, _ := g.flags.LoadOrStore(id, new(atomic.Bool))
	return v.(*atomic.Bool)
}

func (g *RunGuard) TryAcquire(id uint) bool {
	return g.flag(id).CompareAndSwap(false, true)
}

func (g *RunGuard) Release(id uint) {
	g.flag(id).Store(false)
}

func (g *RunGuard) Held(id uint) bool {
	return g.flag(id).Load()
}
