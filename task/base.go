package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glyphcore/taskgraph/errors"
	"github.com/glyphcore/taskgraph/logger"
)

// logCapacity bounds the per-task debug log ring. It exists so a task that
// lives a long time (a slave pinned to a slow master, say) doesn't grow an
// unbounded history; only the most recent transitions matter for a dump.
const logCapacity = 16

type logEntry struct {
	at     time.Time
	action string
}

// Base is the embeddable task state machine. A domain-specific task kind
// embeds *Base and supplies Hooks to NewBase; everything in spec'd section
// 4 about Flush/Setup/Emit/Done/Finish/HandleNotify/NotifyAll/AddNotify/
// AddSlave lives here and is never overridden, only parameterised by Hooks.
type Base struct {
	mu sync.Mutex

	id     uuid.UUID
	hooks  Hooks
	mgr    *Manager
	logger logger.Logger

	flags Flags
	state State

	blockCount int
	notifies   []Notify

	master    *Base
	slaves    int
	slaveList []*Base
	finished  bool

	logRing []logEntry
}

// NewBase constructs a task in state NEW, bound to mgr and driven by hooks.
// If hooks implements an unexported bind(*Base) method (as *SyncHooks
// does), NewBase calls it so the hook can reach back into the task it
// drives; domain hooks that already hold a reference to their own *Base
// (because they embed it) don't need this.
func NewBase(mgr *Manager, hooks Hooks, flags Flags, log logger.Logger) *Base {
	if log == nil {
		log = logger.NopLogger
	}
	b := &Base{
		id:     uuid.New(),
		hooks:  hooks,
		mgr:    mgr,
		logger: log,
		flags:  flags,
		state:  StateNew,
	}
	if binder, ok := hooks.(interface{ bind(*Base) }); ok {
		binder.bind(b)
	}
	return b
}

// ID returns the task's identity, used as a registry key and as the tag
// value attached to metrics for this task.
func (b *Base) ID() uuid.UUID { return b.id }

// State returns the task's current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Flags returns the flags the task was constructed with.
func (b *Base) Flags() Flags { return b.flags }

// BlockCount returns the task's current block count.
func (b *Base) BlockCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockCount
}

// Describe renders a one-line summary for debug dumps.
func (b *Base) Describe() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	master := "none"
	if b.master != nil {
		master = b.master.id.String()[:8]
	}
	return fmt.Sprintf("task %s state=%s flags=%s notifies=%d block_count=%d slaves=%d master=%s finished=%v",
		b.id.String()[:8], b.state, b.flags, len(b.notifies), b.blockCount, b.slaves, master, b.finished)
}

func (b *Base) log(action string) {
	b.logRing = append(b.logRing, logEntry{at: time.Now(), action: action})
	if len(b.logRing) > logCapacity {
		b.logRing = b.logRing[len(b.logRing)-logCapacity:]
	}
}

// bug records a programmer-contract violation: it logs loudly (the process
// and its other goroutines keep running; only this call's effect is
// dropped) and leaves the task's state untouched so the caller can inspect
// what actually happened.
func (b *Base) bug(format string, args ...interface{}) error {
	err := errors.New(ErrInvalidTransition, fmt.Sprintf(format, args...))
	b.logger.Panicf("task %s: %v", b.id, err)
	return err
}

// Flush moves the task from NEW to FLUSHED and hands it to the manager's
// queue. It is the only legal way to leave NEW.
func (b *Base) Flush() {
	b.mu.Lock()
	if b.state != StateNew {
		st := b.state
		b.mu.Unlock()
		b.bug("Flush called from state %s, want NEW", st)
		return
	}
	b.state = StateFlushed
	b.log("flush")
	b.mu.Unlock()
	b.mgr.push(b)
}

// Setup runs the domain Setup hook and transitions FLUSHED -> READY. Called
// only by the manager's consumer goroutine.
func (b *Base) Setup() error {
	b.mu.Lock()
	if b.state != StateFlushed {
		st := b.state
		b.mu.Unlock()
		b.bug("Setup called from state %s, want FLUSHED", st)
		return errors.New(ErrInvalidTransition, "setup from non-flushed state")
	}
	b.mu.Unlock()

	if err := b.hooks.Setup(); err != nil {
		return errors.Wrap(err, "setup")
	}

	b.mu.Lock()
	b.state = StateReady
	b.log("setup")
	b.mu.Unlock()
	return nil
}

// forceDone coerces a FLUSHED or READY task straight to DONE, bypassing
// RUNNING. Used by the manager when Setup fails: the task never got to run
// its domain work, but its dependents still need to be unblocked and its
// resources still need to be released.
func (b *Base) forceDone() {
	b.mu.Lock()
	b.state = StateDone
	b.log("force-done")
	b.mu.Unlock()
}

// AddSlave attaches slave to this task as a master. The slave must be fresh
// (state NEW, no existing master); it will be driven to RUNNING alongside
// this task's own Emit instead of going through Flush/Setup on its own.
func (b *Base) AddSlave(slave *Base) {
	slave.mu.Lock()
	if slave.state != StateNew || slave.master != nil {
		st, hasMaster := slave.state, slave.master != nil
		slave.mu.Unlock()
		b.bug("AddSlave: slave in state %s (has master: %v), want NEW/no master", st, hasMaster)
		return
	}
	slave.master = b
	slave.mu.Unlock()

	b.mu.Lock()
	b.slaves++
	b.slaveList = append(b.slaveList, slave)
	b.log("add-slave")
	b.mu.Unlock()
}

// AddNotify records that downstream depends on this task completing (or, if
// follow is true, reaching RUNNING with no slaves of its own). Self-loops
// are rejected outright. Redundant edges that the EmitNotifies fast path or
// the follow optimisation would make pointless are silently skipped.
func (b *Base) AddNotify(downstream *Base, follow bool) {
	if downstream == b {
		b.mu.Lock()
		st := b.state
		b.mu.Unlock()
		if st != StateFlushed {
			b.bug("AddNotify: self-notify outside FLUSHED (state %s)", st)
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateNew || b.state == StateFlushed {
		st := b.state
		b.bug("AddNotify called on upstream task in state %s, want READY/RUNNING/DONE", st)
		return
	}

	// Same-accessor, no-slave tasks already in RUNNING or DONE will never
	// deliver a meaningful notify through the normal path (there is
	// nothing left for this edge to wait on); the follow optimisation
	// exists precisely to let the caller skip registering it.
	if follow && b.slaves == 0 && (b.state == StateRunning || b.state == StateDone) {
		return
	}

	// EmitNotifies tasks already broadcast every pending notify the
	// instant they reach RUNNING; a new one registered after that point
	// would only be delivered at shutdown, so it's simply not recorded.
	if b.state == StateRunning && b.flags&FlagEmitNotifies != 0 {
		return
	}

	b.notifies = append(b.notifies, Notify{Downstream: downstream, Follow: follow})
	downstream.incBlockCount()
}

func (b *Base) incBlockCount() {
	b.mu.Lock()
	b.blockCount++
	b.mu.Unlock()
}

// Emit transitions READY -> RUNNING, invokes Push on this task and on every
// slave in turn, and then resolves pending notifies: EmitNotifies tasks
// broadcast all of them now; otherwise, if following is set and there are
// no slaves, the follow-tagged subset is delivered immediately and the rest
// wait for Done.
func (b *Base) Emit(following bool) error {
	b.mu.Lock()
	if b.state != StateReady || b.blockCount != 0 {
		st, bc := b.state, b.blockCount
		b.mu.Unlock()
		b.bug("Emit called in state %s with block_count %d, want READY/0", st, bc)
		return errors.New(ErrInvalidTransition, "emit precondition violated")
	}
	b.state = StateRunning
	slaves := append([]*Base(nil), b.slaveList...)
	flags := b.flags
	b.log("emit")
	b.mu.Unlock()

	b.hooks.Push()
	for _, s := range slaves {
		s.mu.Lock()
		s.state = StateRunning
		s.log("emit (slave)")
		s.mu.Unlock()
		s.hooks.Push()
	}

	switch {
	case flags&FlagEmitNotifies != 0:
		b.NotifyAll()
	case following && len(slaves) == 0:
		b.mu.Lock()
		var remaining, toFollow []Notify
		for _, n := range b.notifies {
			if n.Follow {
				toFollow = append(toFollow, n)
			} else {
				remaining = append(remaining, n)
			}
		}
		b.notifies = remaining
		b.mu.Unlock()
		for _, n := range toFollow {
			n.Downstream.HandleNotify(false)
		}
	}
	return nil
}

// Done transitions RUNNING -> DONE and re-enqueues the task with the
// manager for Finish. It's the one Base method expected to be called from
// an arbitrary goroutine (the engine worker that ran Push), so it's the
// only place besides Emit/Setup that touches state without already holding
// the manager's single-consumer guarantee. A second call after the first
// already moved the task to DONE (or past it) is tolerated and logged, not
// treated as a bug: a Push hook racing its own completion signal against a
// cancellation path is a normal thing to happen, not a contract violation.
func (b *Base) Done() {
	b.mu.Lock()
	if b.state != StateRunning {
		st := b.state
		b.mu.Unlock()
		b.logger.Debugf("task %s: duplicate or late Done() ignored (state %s)", b.id, st)
		return
	}
	b.state = StateDone
	b.log("done")
	b.mu.Unlock()
	b.mgr.push(b)
}

// HandleNotify decrements the block count and, if it has reached zero,
// emits the task. following is forwarded to Emit.
func (b *Base) HandleNotify(following bool) error {
	b.mu.Lock()
	if b.state != StateReady || b.blockCount <= 0 {
		st, bc := b.state, b.blockCount
		b.mu.Unlock()
		b.bug("HandleNotify called in state %s with block_count %d, want READY/>0", st, bc)
		return errors.New(ErrInvalidTransition, "handle-notify precondition violated")
	}
	b.blockCount--
	remaining := b.blockCount
	b.mu.Unlock()
	if remaining == 0 {
		return b.Emit(following)
	}
	return nil
}

// NotifyAll broadcasts HandleNotify(true) to every pending notify and
// clears the list. Used by Emit for EmitNotifies tasks reaching RUNNING;
// master shutdown does not call it and uses broadcastShutdown's
// following=false broadcast instead (see DESIGN.md for why these two call
// sites use different following values).
func (b *Base) NotifyAll() {
	b.mu.Lock()
	valid := b.state == StateDone || (b.state == StateRunning && b.flags&FlagEmitNotifies != 0)
	if !valid {
		st := b.state
		b.mu.Unlock()
		b.bug("NotifyAll called in state %s, want DONE or RUNNING+EmitNotifies", st)
		return
	}
	notifies := b.notifies
	b.notifies = nil
	b.mu.Unlock()
	for _, n := range notifies {
		n.Downstream.HandleNotify(true)
	}
}

// broadcastShutdown delivers every pending notify with following=false and
// clears the list. Distinct from NotifyAll's following=true broadcast: a
// shutting-down master's dependents can't exploit the follow optimisation
// because the master (and everything it owns) is about to be destroyed,
// there is no "keep running on this accessor" left to follow onto.
func (b *Base) broadcastShutdown() {
	b.mu.Lock()
	notifies := b.notifies
	b.notifies = nil
	b.mu.Unlock()
	for _, n := range notifies {
		n.Downstream.HandleNotify(false)
	}
}

// Finish runs the task's DONE -> INVALID transition. A task with a master
// only triggers shutdown bookkeeping once the master itself has finished
// and every one of its slaves has too; a master-less task with no slaves
// of its own shuts down immediately.
func (b *Base) Finish() {
	b.mu.Lock()
	if b.state != StateDone {
		st := b.state
		b.mu.Unlock()
		b.bug("Finish called in state %s, want DONE", st)
		return
	}
	b.finished = true
	master := b.master
	b.log("finish")
	b.mu.Unlock()

	var shutdown *Base
	if master != nil {
		// A slave releases its own resources as soon as it finishes,
		// rather than waiting on the master's shutdown: it may hold
		// accesses the master knows nothing about, and there's no
		// reason to pin them past the point this slave is actually
		// done. Only destruction (registry removal, INVALID) waits
		// for the master, so the manager's bookkeeping stays tied to
		// the master's lifetime.
		b.hooks.Finalise()

		master.mu.Lock()
		master.slaves--
		ready := master.slaves == 0 && master.finished
		master.mu.Unlock()
		if ready {
			shutdown = master
		}
	} else {
		b.mu.Lock()
		ready := b.slaves == 0
		b.mu.Unlock()
		if ready {
			shutdown = b
		}
	}

	if shutdown != nil {
		shutdown.shutdown()
	}
}

// shutdown runs the master-shutdown sequence: notify dependents, finalise
// this task's own resources (slaves already finalised themselves in
// Finish), destroy every slave, tell the manager the sync barrier has one
// fewer task to wait for, and finally destroy this task.
func (b *Base) shutdown() {
	b.broadcastShutdown()
	b.hooks.Finalise()

	b.mu.Lock()
	slaves := append([]*Base(nil), b.slaveList...)
	b.slaveList = nil
	b.mu.Unlock()

	for _, s := range slaves {
		b.mgr.forget(s)
		s.mu.Lock()
		s.state = StateInvalid
		s.mu.Unlock()
	}

	b.mgr.onShutdown(b.flags)
	b.mgr.forget(b)

	b.mu.Lock()
	b.state = StateInvalid
	b.log("shutdown")
	b.mu.Unlock()
}
