// Package surface specialises task.Base for operations on shared,
// reference-counted allocations: it resolves reader/writer dependencies
// (at most one writer at a time, many concurrent readers, a writer
// excludes and is excluded by both) into the notify edges task.Base already
// knows how to wait on.
package surface

import (
	"fmt"

	"github.com/glyphcore/taskgraph/engine"
	"github.com/glyphcore/taskgraph/errors"
	"github.com/glyphcore/taskgraph/logger"
	"github.com/glyphcore/taskgraph/task"
)

type access struct {
	alloc Allocation
	flags AccessFlags
}

// Task is a task.Base specialised for surface allocation access. Accessor
// names the execution context (GPU engine, CPU thread pool, ...) this
// task's Push will run on; it's also the key the same-execution-context
// follow-edge optimisation compares against.
type Task struct {
	*task.Base

	accessor string
	accesses []access

	dispatcher    *engine.Dispatcher
	payload       func()
	busyThreshold int

	logger logger.Logger
}

// NewTask constructs a surface task bound to mgr. dispatcher may be nil, in
// which case Push runs payload synchronously and calls Done on the spot
// instead of handing it to an engine.Pool; payload may be nil.
// busyThreshold, if positive, caps how many outstanding tasks an allocation
// may have before Setup refuses new write/read resolution against it (see
// ErrSetupBusy).
func NewTask(mgr *task.Manager, accessor string, dispatcher *engine.Dispatcher, payload func(), busyThreshold int, log logger.Logger) *Task {
	if log == nil {
		log = logger.NopLogger
	}
	t := &Task{
		accessor:      accessor,
		dispatcher:    dispatcher,
		payload:       payload,
		busyThreshold: busyThreshold,
		logger:        log,
	}
	t.Base = task.NewBase(mgr, t, task.FlagNone, log)
	return t
}

// Accessor returns the execution context this task runs on.
func (t *Task) Accessor() string { return t.accessor }

// AddAccess declares that this task will access alloc with the given
// flags, once it runs. Must be called before Flush (state NEW); acquires a
// reference on alloc that Finalise releases.
func (t *Task) AddAccess(alloc Allocation, flags AccessFlags) error {
	if t.State() != task.StateNew {
		return errors.New(ErrAddAccessAfterFlush,
			fmt.Sprintf("AddAccess called in state %s, want NEW", t.State()))
	}
	if err := alloc.Ref(); err != nil {
		return errors.Wrap(err, string(ErrRefFailed))
	}
	t.accesses = append(t.accesses, access{alloc: alloc, flags: flags})
	alloc.State().incTaskCount()
	return nil
}

// Setup resolves this task's declared accesses against the current
// reader/writer state of each allocation, in declaration order:
//
//   - a write access notifies every current reader (clearing the reader
//     set) or, if there are no readers, the current writer if any, then
//     becomes the new writer;
//   - a read access notifies the current writer if any, then joins the
//     reader set.
//
// Each notify's follow bit is set when the upstream task shares this task's
// accessor: same-accessor work can be driven straight off Emit instead of
// round-tripping through the notify queue.
func (t *Task) Setup() error {
	for _, a := range t.accesses {
		st := a.alloc.State()

		if t.busyThreshold > 0 && st.TaskCount() > t.busyThreshold {
			return errors.New(ErrSetupBusy,
				fmt.Sprintf("allocation has %d outstanding tasks, over threshold %d", st.TaskCount(), t.busyThreshold))
		}

		if a.flags&AccessWrite != 0 {
			if len(st.readTasks) > 0 {
				for _, rt := range st.readTasks {
					rt.AddNotify(t.Base, rt.accessor == t.accessor)
				}
				st.readTasks = nil
			} else if st.writeTask != nil {
				st.writeTask.AddNotify(t.Base, st.writeTask.accessor == t.accessor)
			}
			st.writeTask = t
		} else {
			if st.writeTask != nil {
				st.writeTask.AddNotify(t.Base, st.writeTask.accessor == t.accessor)
			}
			st.readTasks = append(st.readTasks, t)
		}
	}
	return nil
}

// Push hands the task's simulated payload to its accessor's engine pool (or
// runs it inline, if this task has no dispatcher), which calls Done once
// the payload returns.
func (t *Task) Push() {
	done := func() {
		if t.payload != nil {
			t.payload()
		}
		t.Base.Done()
	}
	if t.dispatcher == nil {
		done()
		return
	}
	t.dispatcher.Submit(t.accessor, done)
}

// Finalise clears this task's registration from every allocation it
// declared an access to, decrements each allocation's task count, and
// releases the reference AddAccess acquired.
func (t *Task) Finalise() {
	for _, a := range t.accesses {
		st := a.alloc.State()

		if st.writeTask == t {
			st.writeTask = nil
		} else {
			for i, rt := range st.readTasks {
				if rt == t {
					st.readTasks = append(st.readTasks[:i], st.readTasks[i+1:]...)
					break
				}
			}
		}

		st.decTaskCount()
		a.alloc.Unref()
	}
	t.accesses = nil
}

// Describe renders the base task summary plus the accessor and access
// count, matching SurfaceTask::Describe's append-to-base-string pattern.
func (t *Task) Describe() string {
	return fmt.Sprintf("%s accessor=%s accesses=%d", t.Base.Describe(), t.accessor, len(t.accesses))
}
