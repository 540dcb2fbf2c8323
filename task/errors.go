package task

import "github.com/glyphcore/taskgraph/errors"

// Error codes for this package. ErrInvalidTransition marks a programmer
// contract violation in the state machine itself (a caller called Flush,
// Setup, AddSlave, AddNotify, Emit, HandleNotify, NotifyAll, or Finish
// outside of the precondition it requires); these are always logged loudly
// via Panicf. Setup, Emit and HandleNotify also return one to their caller;
// the other methods return nothing. The rest are ordinary recoverable
// errors a caller is expected to handle.
const (
	ErrInvalidTransition errors.Code = "TaskInvalidTransition"
	ErrSetupFailed       errors.Code = "TaskSetupFailed"
	ErrSyncTimeout       errors.Code = "TaskSyncTimeout"
)
