package surface

import "sync/atomic"

// Allocation is the collaborator a surface.Task resolves dependencies
// against: some shared, reference-counted resource (a GPU surface backing
// store, in the system this is modelled on) that can be read and written
// by many tasks, at most one writer at a time. This package doesn't define
// what an allocation actually holds (that's explicitly out of scope); it
// only needs Ref/Unref for lifetime and an AccessState to track who's
// currently reading or writing it.
type Allocation interface {
	// Ref acquires a reference on behalf of a task that just declared an
	// access. It can fail (the allocation may have already been torn
	// down by the time AddAccess runs).
	Ref() error
	// Unref releases a reference acquired by a prior successful Ref.
	Unref()
	// State returns the allocation's access-tracking state. Must always
	// return the same *AccessState for a given Allocation.
	State() *AccessState
}

// AccessState tracks which tasks currently hold read or write access to an
// allocation. It's mutated only by the manager's consumer goroutine (inside
// Task.Setup/Task.Finalise), since that's the only place read/write
// resolution happens; TaskCount is incremented from AddAccess (which a
// producer goroutine may call) and decremented from Finalise, so it alone
// needs to be atomic.
type AccessState struct {
	taskCount int32

	writeTask *Task
	readTasks []*Task
}

// TaskCount returns the number of tasks that have declared (but not
// necessarily resolved) an access to this allocation and not yet finalised.
func (s *AccessState) TaskCount() int {
	return int(atomic.LoadInt32(&s.taskCount))
}

func (s *AccessState) incTaskCount() { atomic.AddInt32(&s.taskCount, 1) }
func (s *AccessState) decTaskCount() { atomic.AddInt32(&s.taskCount, -1) }

// AccessFlags describes how a task intends to use an allocation.
type AccessFlags uint8

const (
	// AccessRead declares a read-only access.
	AccessRead AccessFlags = 1 << 0
	// AccessWrite declares a write access. A write access implicitly
	// excludes concurrent readers and writers: Setup makes every prior
	// reader or writer notify this task before it may proceed.
	AccessWrite AccessFlags = 1 << 1
)

func (f AccessFlags) String() string {
	switch {
	case f&AccessWrite != 0:
		return "write"
	case f&AccessRead != 0:
		return "read"
	default:
		return "none"
	}
}
