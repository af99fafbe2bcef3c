package validator

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 20
	MaxConcurrency     = 100
)

// Governor 是全批次共享的并发准入闸门，限制同时在途的探测数量。
type Governor struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewGovernor clamps capacity into [1, MaxConcurrency]; zero means default.
func NewGovernor(capacity int) *Governor {
	switch {
	case capacity == 0:
		capacity = DefaultConcurrency
	case capacity < 1:
		capacity = 1
	case capacity > MaxConcurrency:
		capacity = MaxConcurrency
	}
	return &Governor{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Release must be paired with every successful Acquire.
func (g *Governor) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

func (g *Governor) Capacity() int {
	return int(g.capacity)
}

func (g *Governor) InFlight() int {
	return int(g.inFlight.Load())
}

// Peak 返回自创建以来观察到的最大在途数量。
func (g *Governor) Peak() int {
	return int(g.peak.Load())
}
