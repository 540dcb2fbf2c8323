// Copyright 2022 Molecula Corp. All rights reserved.

package engine

import (
	"sync"
	"sync/atomic"
)

// Stats receives pool size updates so it can be reflected in a metrics
// backend (see package metrics). Implementations must be safe to call
// concurrently and must not block.
type Stats interface {
	PoolSize(accessor string, n int)
}

// nopStats discards pool size updates.
type nopStats struct{}

func (nopStats) PoolSize(string, int) {}

// Pool runs a worker function in a loop across goroutines, aiming for a
// target level of concurrency. When a worker calls Block, it's marking
// itself as stalled on something outside the pool (typically: waiting on
// another accessor to release an allocation); if that drops the unblocked
// count below the target, a new worker is spawned immediately. Unblock
// reverses this, and eventually lets the pool shed the extra worker.
//
// A pool is shut down by calling Close, which sets its target to 0 and
// waits for every worker to exit.
type Pool struct {
	mu        sync.Mutex // locker used for cond
	cond      *sync.Cond // notify of exiting workers
	accessor  string
	step      func()
	targetN   int32 // desired number
	maxLive   int32 // hard cap on live workers, 0 means unbounded
	unblocked int32 // currently active and unblocked
	live      int32 // currently active including blocked
	stats     Stats
}

// NewPool creates a pool for the named accessor that attempts to keep
// targetN goroutines active, executing step() repeatedly. maxLive, if
// positive, is the most live workers Block may grow the pool to; 0 leaves
// it unbounded. stats may be nil.
func NewPool(accessor string, targetN, maxLive int, step func(), stats Stats) *Pool {
	if stats == nil {
		stats = nopStats{}
	}
	p := &Pool{accessor: accessor, targetN: int32(targetN), maxLive: int32(maxLive), step: step, stats: stats}
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < targetN; i++ {
		p.addWorker()
	}
	return p
}

// Block marks a worker as blocked, indicating that we may need a new worker
// spawned because the caller is about to be blocked for an indeterminate
// period of time. If a new worker is needed, it's spawned immediately before
// Block returns -- unless this pool has a maxLive cap and is already at it,
// in which case the accessor just runs one fewer unblocked worker until
// Unblock is called. A GPU accessor maps onto a fixed number of physical
// compute queues; spawning a worker past that count wouldn't buy any real
// concurrency, so it's left for the existing workers to drain instead.
func (p *Pool) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	unblocked := atomic.AddInt32(&p.unblocked, -1)
	target := atomic.LoadInt32(&p.targetN)
	if unblocked >= target {
		return
	}
	if max := atomic.LoadInt32(&p.maxLive); max > 0 && atomic.LoadInt32(&p.live) >= max {
		return
	}
	p.addWorker()
}

// Unblock marks a worker as unblocked, potentially allowing the pool to
// retire a worker thread at some point in the future.
func (p *Pool) Unblock() {
	atomic.AddInt32(&p.unblocked, 1)
}

// Shutdown tells a pool to terminate by setting its desired pool size
// to zero, but does not wait for the jobs in it to stop. It is safe to
// call this before calling Close.
func (p *Pool) Shutdown() {
	atomic.StoreInt32(&p.targetN, 0)
}

// Live reports on the pool's current state -- total live workers it
// has, how many it thinks are unblocked, and what its target is. These
// numbers are sampled individually with no locking, so they're not
// guaranteed to be consistent; good enough for approximate monitoring.
func (p *Pool) Live() (live, unblocked, target int) {
	return int(atomic.LoadInt32(&p.live)), int(atomic.LoadInt32(&p.unblocked)), int(atomic.LoadInt32(&p.targetN))
}

// Accessor returns the accessor name this pool was created for.
func (p *Pool) Accessor() string { return p.accessor }

// Close is a Shutdown followed by waiting for all jobs to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Shutdown()
	live := atomic.LoadInt32(&p.live)
	for live > 0 {
		p.cond.Wait()
		live = atomic.LoadInt32(&p.live)
	}
}

// addWorker increments the number of unblocked things, and starts a worker.
// Must be called with p.mu held.
func (p *Pool) addWorker() {
	live := atomic.AddInt32(&p.live, 1)
	p.stats.PoolSize(p.accessor, int(live))
	atomic.AddInt32(&p.unblocked, 1)
	go p.work()
}

// work runs the provided work function in a loop as long as there's not
// too many unblocked goroutines, otherwise it exits.
func (p *Pool) work() {
	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		live := atomic.AddInt32(&p.live, -1)
		p.stats.PoolSize(p.accessor, int(live))
		if live == 0 {
			p.cond.Broadcast()
		}
	}()
	for {
		unblocked := atomic.LoadInt32(&p.unblocked)
		target := atomic.LoadInt32(&p.targetN)
		for unblocked > target {
			swapped := atomic.CompareAndSwapInt32(&p.unblocked, unblocked, unblocked-1)
			if swapped {
				return
			}
			unblocked = atomic.LoadInt32(&p.unblocked)
			target = atomic.LoadInt32(&p.targetN)
		}
		p.step()
	}
}
