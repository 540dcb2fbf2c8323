package engine

import (
	"strings"
	"sync"
)

// Dispatcher owns one Pool per accessor, created lazily on first use, and
// hands payload closures to whichever pool is responsible for running them.
// It is the thing surface.Task's default Push hook submits work to.
type Dispatcher struct {
	mu       sync.Mutex
	poolSize int
	stats    Stats
	pools    map[string]*accessorPool
}

type accessorPool struct {
	pool *Pool
	jobs chan func()
}

// NewDispatcher creates a dispatcher that sizes every accessor's pool to
// poolSize goroutines. stats may be nil.
func NewDispatcher(poolSize int, stats Stats) *Dispatcher {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Dispatcher{
		poolSize: poolSize,
		stats:    stats,
		pools:    make(map[string]*accessorPool),
	}
}

// Submit runs job on the pool for accessor, creating the pool if this is the
// first job seen for that accessor. job is expected to call task.Done (or
// task.Base.Done) itself when the simulated work completes; Submit does not
// wait for it.
func (d *Dispatcher) Submit(accessor string, job func()) {
	d.mu.Lock()
	ap, ok := d.pools[accessor]
	if !ok {
		ap = &accessorPool{jobs: make(chan func(), 64)}
		jobs := ap.jobs
		ap.pool = NewPool(accessor, d.poolSize, maxLiveFor(accessor, d.poolSize), func() {
			fn, ok := <-jobs
			if !ok {
				return
			}
			fn()
		}, d.stats)
		d.pools[accessor] = ap
	}
	d.mu.Unlock()
	ap.jobs <- job
}

// Close shuts down every accessor pool created so far and waits for their
// workers to exit. Outstanding jobs already buffered on a pool's channel are
// dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	pools := make([]*accessorPool, 0, len(d.pools))
	for _, ap := range d.pools {
		pools = append(pools, ap)
	}
	d.pools = make(map[string]*accessorPool)
	d.mu.Unlock()
	for _, ap := range pools {
		// Closing jobs first unsticks any worker blocked on a receive;
		// Pool.Close then drives target to 0 and waits for them to exit.
		close(ap.jobs)
		ap.pool.Close()
	}
}

// maxLiveFor returns the hard cap on live workers for accessor, or 0 for no
// cap. An accessor named "gpu" or prefixed "gpu-" (one pool per physical
// device, e.g. "gpu-0") stands in for a fixed number of compute queues and
// can't usefully run more workers than its target no matter how many
// payloads call Block; every other accessor is assumed CPU-bound and grows
// elastically.
func maxLiveFor(accessor string, target int) int {
	if accessor == "gpu" || strings.HasPrefix(accessor, "gpu-") {
		return target
	}
	return 0
}

// Sizes reports the live worker count for every accessor pool created so
// far, keyed by accessor name. Intended for debug/metrics use.
func (d *Dispatcher) Sizes() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.pools))
	for name, ap := range d.pools {
		live, _, _ := ap.pool.Live()
		out[name] = live
	}
	return out
}
