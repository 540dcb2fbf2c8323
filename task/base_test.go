package task

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{QueueDepth: 16, Enabled: true}, nil, nil)
	if err := m.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

// syncTask is a task whose Push runs step synchronously on the engine-free
// path, then calls Done, so a test can drive the graph without any real
// asynchrony beyond the manager's own consumer goroutine.
func syncTask(mgr *Manager, step func()) *Base {
	return NewBase(mgr, &SyncHooks{Step: step}, FlagNone, nil)
}

func TestSingleTaskRunsToCompletion(t *testing.T) {
	mgr := newTestManager(t)
	var ran bool
	b := syncTask(mgr, func() { ran = true })

	b.Flush()

	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !ran {
		t.Fatalf("task payload never ran")
	}
	if st := b.State(); st != StateInvalid {
		t.Fatalf("State() = %s, want INVALID", st)
	}
}

// blockingHooks lets a test pin a task in RUNNING until it chooses to let
// it proceed, so dependency resolution (AddNotify) can be exercised against
// an upstream task in a known state instead of racing the real thing. Push
// runs on the manager's consumer goroutine, so the wait happens on a
// goroutine of its own, the way an engine pool would run it.
type blockingHooks struct {
	base    *Base
	started chan struct{}
	proceed chan struct{}
	step    func()
}

func (h *blockingHooks) Setup() error { return nil }
func (h *blockingHooks) Push() {
	close(h.started)
	go func() {
		<-h.proceed
		if h.step != nil {
			h.step()
		}
		h.base.Done()
	}()
}
func (h *blockingHooks) Finalise() {}

// notifyingHooks registers a notify on upstream during Setup, exactly the
// way surface.Task.Setup resolves a dependency against another task.
type notifyingHooks struct {
	base     *Base
	upstream *Base
	follow   bool
	step     func()
}

func (h *notifyingHooks) Setup() error {
	h.upstream.AddNotify(h.base, h.follow)
	return nil
}
func (h *notifyingHooks) Push() {
	if h.step != nil {
		h.step()
	}
	h.base.Done()
}
func (h *notifyingHooks) Finalise() {}

func TestAddNotifyOrdersTwoTasks(t *testing.T) {
	mgr := newTestManager(t)

	var mu sync.Mutex
	var order []string

	up := &blockingHooks{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
		step: func() {
			mu.Lock()
			order = append(order, "upstream")
			mu.Unlock()
		},
	}
	upstream := NewBase(mgr, up, FlagNone, nil)
	up.base = upstream
	upstream.Flush()
	<-up.started // upstream is now RUNNING, its work parked on proceed

	down := &notifyingHooks{
		upstream: upstream,
		step: func() {
			mu.Lock()
			order = append(order, "downstream")
			mu.Unlock()
		},
	}
	downstream := NewBase(mgr, down, FlagNone, nil)
	down.base = downstream
	downstream.Flush()

	// Give the manager a moment to run downstream's Setup (which blocks
	// it on upstream) before we let upstream finish.
	time.Sleep(20 * time.Millisecond)
	close(up.proceed)

	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "upstream" || order[1] != "downstream" {
		t.Fatalf("order = %v, want [upstream downstream]", order)
	}
}

func TestAddSlaveRunsAlongsideMaster(t *testing.T) {
	mgr := newTestManager(t)

	var mu sync.Mutex
	var ran []string

	master := syncTask(mgr, func() {
		mu.Lock()
		ran = append(ran, "master")
		mu.Unlock()
	})
	slave := syncTask(mgr, func() {
		mu.Lock()
		ran = append(ran, "slave")
		mu.Unlock()
	})

	master.AddSlave(slave)
	master.Flush()

	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 2 {
		t.Fatalf("ran = %v, want 2 entries", ran)
	}
	if slave.State() != StateInvalid {
		t.Fatalf("slave State() = %s, want INVALID", slave.State())
	}
}

// TestMasterWaitsForBothSlavesBeforeShutdown extends the single-slave case
// above to two: master.slaves must reach zero, not merely drop below its
// starting count, before shutdown runs. The manager here is disabled so
// Setup/Emit/Finish can be driven by hand, one slave's Finish at a time,
// instead of racing a live consumer to catch an in-between state.
func TestMasterWaitsForBothSlavesBeforeShutdown(t *testing.T) {
	mgr := NewManager(ManagerConfig{QueueDepth: 8, Enabled: false}, nil, nil)

	var mu sync.Mutex
	var ran []string
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	master := syncTask(mgr, func() { record("master") })
	slave1 := syncTask(mgr, func() { record("slave1") })
	slave2 := syncTask(mgr, func() { record("slave2") })

	master.AddSlave(slave1)
	master.AddSlave(slave2)
	master.Flush()

	if err := master.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := master.Emit(true); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if master.State() != StateDone || slave1.State() != StateDone || slave2.State() != StateDone {
		t.Fatalf("master=%s slave1=%s slave2=%s, want all DONE after Emit", master.State(), slave1.State(), slave2.State())
	}

	master.Finish()
	if master.State() != StateDone {
		t.Fatalf("master State() = %s, want still DONE with two slaves outstanding", master.State())
	}

	slave1.Finish()
	if master.State() != StateDone {
		t.Fatalf("master State() = %s, want still DONE after only one of two slaves finished", master.State())
	}
	if slave1.State() != StateDone {
		t.Fatalf("slave1 State() = %s, want DONE: it finalises itself at its own Finish, but only goes INVALID once the master shuts down", slave1.State())
	}

	slave2.Finish()
	if master.State() != StateInvalid {
		t.Fatalf("master State() = %s, want INVALID once both slaves have finished", master.State())
	}
	if slave1.State() != StateInvalid || slave2.State() != StateInvalid {
		t.Fatalf("slave1=%s slave2=%s, want both INVALID after the master's shutdown", slave1.State(), slave2.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 3 {
		t.Fatalf("ran = %v, want 3 entries", ran)
	}
}

// TestSetupFailureOnMiddleTaskStillNotifiesDownstream covers a chained
// write where the middle task's Setup fails after a downstream task has
// already resolved a dependency against it. The manager's live consumer
// processes a failed Setup's forceDone->Finish synchronously with no
// window for another task's Setup to land in between, so this drives the
// same sequence by hand with the consumer disabled: Setup, forceDone,
// downstream's Setup, then Finish, in that fixed order.
func TestSetupFailureOnMiddleTaskStillNotifiesDownstream(t *testing.T) {
	mgr := NewManager(ManagerConfig{QueueDepth: 8, Enabled: false}, nil, nil)

	var mu sync.Mutex
	var ran []string
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	middleHooks := &failingHooks{failSetup: true}
	middle := NewBase(mgr, middleHooks, FlagNone, nil)
	middleHooks.base = middle
	middle.Flush()

	downHooks := &notifyingHooks{upstream: middle, step: func() { record("downstream") }}
	downstream := NewBase(mgr, downHooks, FlagNone, nil)
	downHooks.base = downstream
	downstream.Flush()

	if err := middle.Setup(); err == nil {
		t.Fatalf("Setup() error = nil, want a synthetic failure")
	}
	middle.forceDone()
	if middle.State() != StateDone {
		t.Fatalf("middle State() = %s, want DONE after a failed Setup", middle.State())
	}

	// downstream resolves its own dependency while middle sits in DONE but
	// not yet finalised -- the same window a real write chain's downstream
	// task sees when the task ahead of it fails Setup after already
	// becoming the allocation's writer.
	if err := downstream.Setup(); err != nil {
		t.Fatalf("downstream Setup() error = %v", err)
	}
	if bc := downstream.BlockCount(); bc != 1 {
		t.Fatalf("downstream BlockCount() = %d, want 1", bc)
	}

	middle.Finish()

	if !middleHooks.finalised {
		t.Fatalf("Finalise was never called on the middle task")
	}
	if middle.State() != StateInvalid {
		t.Fatalf("middle State() = %s, want INVALID", middle.State())
	}
	if downstream.BlockCount() != 0 {
		t.Fatalf("downstream BlockCount() = %d, want 0 once middle's forced-DONE shutdown delivered its notify", downstream.BlockCount())
	}
	if downstream.State() != StateDone {
		t.Fatalf("downstream State() = %s, want DONE: HandleNotify should have emitted it already", downstream.State())
	}

	downstream.Finish()
	if downstream.State() != StateInvalid {
		t.Fatalf("downstream State() = %s, want INVALID", downstream.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "downstream" {
		t.Fatalf("ran = %v, want [downstream]", ran)
	}
}

func TestFlagNoSyncExcludedFromSyncBarrier(t *testing.T) {
	mgr := newTestManager(t)

	block := make(chan struct{})
	blocked := syncTask(mgr, func() { <-block })
	blocked.Flush()

	noSync := NewBase(mgr, &SyncHooks{}, FlagNoSync, nil)
	noSync.Flush()

	done := make(chan error, 1)
	go func() { done <- mgr.Sync(context.Background()) }()

	select {
	case <-done:
		t.Fatalf("Sync() returned before the sync-eligible task finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func TestFlushFromWrongStateLogsAndNoops(t *testing.T) {
	mgr := newTestManager(t)
	b := syncTask(mgr, func() {})
	b.Flush()
	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	// b is now INVALID; a second Flush is a contract violation and must
	// log loudly, not panic the test process.
	b.Flush()
}

func TestEmitNotifiesBroadcastsAtRunningNotWaitingForDone(t *testing.T) {
	mgr := newTestManager(t)

	up := &blockingHooks{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	upstream := NewBase(mgr, up, FlagEmitNotifies, nil)
	up.base = upstream
	upstream.Flush()
	<-up.started // upstream reached RUNNING; with EmitNotifies, notifies
	// fire at Emit even though upstream's own work hasn't called Done yet.

	var mu sync.Mutex
	var notified bool
	down := &notifyingHooks{
		upstream: upstream,
		step: func() {
			mu.Lock()
			notified = true
			mu.Unlock()
		},
	}
	downstream := NewBase(mgr, down, FlagNone, nil)
	down.base = downstream
	downstream.Flush()

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := notified
		mu.Unlock()
		if got {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("downstream never ran despite upstream already RUNNING with EmitNotifies")
		}
		time.Sleep(time.Millisecond)
	}

	close(up.proceed)
	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

type failingHooks struct {
	base      *Base
	failSetup bool
	finalised bool
}

func (h *failingHooks) Setup() error {
	if h.failSetup {
		return simpleErr("synthetic setup failure")
	}
	return nil
}
func (h *failingHooks) Push()      { h.base.Done() }
func (h *failingHooks) Finalise() { h.finalised = true }

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func TestSetupFailureForcesDone(t *testing.T) {
	mgr := newTestManager(t)

	hooks := &failingHooks{failSetup: true}
	b := NewBase(mgr, hooks, FlagNone, nil)
	hooks.base = b

	b.Flush()
	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !hooks.finalised {
		t.Fatalf("Finalise was never called after a failed Setup")
	}
	if b.State() != StateInvalid {
		t.Fatalf("State() = %s, want INVALID", b.State())
	}
}
