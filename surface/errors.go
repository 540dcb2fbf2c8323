package surface

import "github.com/glyphcore/taskgraph/errors"

const (
	// ErrAddAccessAfterFlush marks a caller declaring an access on a task
	// that has already left NEW.
	ErrAddAccessAfterFlush errors.Code = "SurfaceAddAccessAfterFlush"
	// ErrRefFailed wraps a failure from Allocation.Ref.
	ErrRefFailed errors.Code = "SurfaceRefFailed"
	// ErrSetupBusy is returned from Setup when an allocation already has
	// more outstanding tasks than its configured busy threshold. This
	// revives a backpressure check the original left commented out
	// (allocation->task_count > 3 => DFB_BUSY) as an actual, configurable
	// feature: without it, a hot allocation can accumulate an unbounded
	// notify chain when one producer runs far ahead of its consumers.
	ErrSetupBusy errors.Code = "SurfaceSetupBusy"
)
