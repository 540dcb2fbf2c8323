package task

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/glyphcore/taskgraph/errors"
	"github.com/glyphcore/taskgraph/logger"
	"github.com/glyphcore/taskgraph/queue"
	"github.com/glyphcore/taskgraph/stats"
)

// ManagerConfig controls a Manager's queue depth, whether it actually runs
// a consumer goroutine, and whether it keeps a debug registry of live
// tasks.
type ManagerConfig struct {
	// QueueDepth bounds the FIFO between producers (Flush/Done callers)
	// and the single consumer goroutine.
	QueueDepth int
	// Enabled starts the consumer goroutine. A Manager with Enabled false
	// still accepts pushes but never drains them; this mirrors spec.md's
	// task_manager config flag and is only meant for tests that exercise
	// Base's state machine directly without a live consumer.
	Enabled bool
	// DebugRegistry keeps a map of every live task, guarded by a mutex,
	// for Manager.Dump.
	DebugRegistry bool
	// SyncTimeout bounds how long Sync will wait for task_count_sync to
	// reach zero before returning ErrSyncTimeout. Zero means wait
	// forever.
	SyncTimeout time.Duration
}

// Manager is the single-consumer scheduler described in spec.md §5: a
// bounded FIFO fed by any number of producer goroutines (via Flush and
// Done), drained by exactly one consumer goroutine that runs Setup/Emit/
// Finish on each task as it's pulled off the queue.
type Manager struct {
	logger logger.Logger
	stats  stats.StatsClient
	q      *queue.Queue[*Base]

	enabled bool
	wg      sync.WaitGroup

	taskCount     int64
	taskCountSync int64

	syncMu      sync.Mutex
	syncCond    *sync.Cond
	syncTimeout time.Duration

	registryMu sync.Mutex
	registry   map[uuid.UUID]*Base
}

// NewManager constructs a Manager. log and st may be nil (they default to
// logger.NopLogger and stats.NopStatsClient).
func NewManager(cfg ManagerConfig, log logger.Logger, st stats.StatsClient) *Manager {
	if log == nil {
		log = logger.NopLogger
	}
	if st == nil {
		st = stats.NopStatsClient
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	m := &Manager{
		logger:      log,
		stats:       st,
		q:           queue.New[*Base](depth),
		enabled:     cfg.Enabled,
		syncTimeout: cfg.SyncTimeout,
	}
	m.syncCond = sync.NewCond(&m.syncMu)
	if cfg.DebugRegistry {
		m.registry = make(map[uuid.UUID]*Base)
	}
	return m
}

// Init starts the consumer goroutine, if the manager was configured as
// enabled. Safe to call once; calling it on a disabled manager is a no-op.
func (m *Manager) Init() error {
	if !m.enabled {
		m.logger.Warnf("task manager: Init called but manager is not enabled; tasks will queue without draining")
		return nil
	}
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Shutdown signals the consumer goroutine to exit once it has drained
// everything already queued, and waits for it to do so.
func (m *Manager) Shutdown() {
	if !m.enabled {
		return
	}
	m.q.Close()
	m.wg.Wait()
}

// push enqueues a task. Called by Base.Flush (state FLUSHED, which also
// bumps the sync-barrier counters) and by Base.Done (state DONE, a
// re-enqueue that doesn't touch the counters since they were already
// accounted for at Flush time).
func (m *Manager) push(t *Base) {
	if t.State() == StateFlushed {
		n := atomic.AddInt64(&m.taskCount, 1)
		m.stats.Gauge("task_count", float64(n), 1)
		if t.Flags()&FlagNoSync == 0 {
			ns := atomic.AddInt64(&m.taskCountSync, 1)
			m.stats.Gauge("task_count_sync", float64(ns), 1)
		}
		if m.registry != nil {
			m.registryMu.Lock()
			m.registry[t.ID()] = t
			m.registryMu.Unlock()
		}
	}
	m.q.Push(t)
}

// forget removes a task from the debug registry, if one is kept. Called
// during shutdown, just before a task is marked INVALID.
func (m *Manager) forget(t *Base) {
	if m.registry == nil {
		return
	}
	m.registryMu.Lock()
	delete(m.registry, t.ID())
	m.registryMu.Unlock()
}

// onShutdown decrements the sync-barrier counters for a task that just
// finished shutting down, waking any Sync callers if task_count_sync has
// reached zero.
func (m *Manager) onShutdown(flags Flags) {
	n := atomic.AddInt64(&m.taskCount, -1)
	m.stats.Gauge("task_count", float64(n), 1)
	if flags&FlagNoSync != 0 {
		return
	}
	ns := atomic.AddInt64(&m.taskCountSync, -1)
	m.stats.Gauge("task_count_sync", float64(ns), 1)
	if ns == 0 {
		m.syncMu.Lock()
		m.syncCond.Broadcast()
		m.syncMu.Unlock()
	}
}

// Sync blocks until every task not flagged NoSync has finalised, or until
// ctx is cancelled / the manager's configured SyncTimeout elapses,
// whichever comes first. A zero SyncTimeout with a non-cancellable ctx
// waits indefinitely, matching the original's unbounded busy-wait contract
// but without actually busy-waiting.
func (m *Manager) Sync(ctx context.Context) error {
	if atomic.LoadInt64(&m.taskCountSync) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.syncMu.Lock()
		for atomic.LoadInt64(&m.taskCountSync) != 0 {
			m.syncCond.Wait()
		}
		m.syncMu.Unlock()
		close(done)
	}()

	var timeout <-chan time.Time
	if m.syncTimeout > 0 {
		timer := time.NewTimer(m.syncTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		return nil
	case <-timeout:
		return errors.New(ErrSyncTimeout, fmt.Sprintf("sync timed out after %s with %d tasks outstanding", m.syncTimeout, atomic.LoadInt64(&m.taskCountSync)))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskCount returns the number of tasks currently tracked by the manager
// (flushed but not yet finalised).
func (m *Manager) TaskCount() int64 { return atomic.LoadInt64(&m.taskCount) }

// TaskCountSync returns the number of sync-eligible (non-NoSync) tasks
// currently tracked by the manager.
func (m *Manager) TaskCountSync() int64 { return atomic.LoadInt64(&m.taskCountSync) }

// loop is the manager's single consumer goroutine.
func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		t, ok := m.q.Pull()
		if !ok {
			return
		}
		m.handle(t)
	}
}

func (m *Manager) handle(t *Base) {
	switch t.State() {
	case StateFlushed:
		if err := t.Setup(); err != nil {
			m.logger.Errorf("task %s: setup failed: %v", t.ID(), err)
			t.forceDone()
			t.Finish()
			return
		}
		if t.BlockCount() == 0 {
			if err := t.Emit(true); err != nil {
				m.logger.Errorf("task %s: emit failed: %v", t.ID(), err)
			}
		}
	case StateDone:
		t.Finish()
	default:
		m.logger.Errorf("task %s: manager pulled task in unexpected state %s", t.ID(), t.State())
	}
}

// Dump writes a one-line description of every task currently in the debug
// registry. It's a no-op if the manager wasn't configured with
// DebugRegistry.
func (m *Manager) Dump(w io.Writer) {
	if m.registry == nil {
		return
	}
	m.registryMu.Lock()
	tasks := make([]*Base, 0, len(m.registry))
	for _, t := range m.registry {
		tasks = append(tasks, t)
	}
	m.registryMu.Unlock()
	for _, t := range tasks {
		fmt.Fprintln(w, t.Describe())
	}
}
