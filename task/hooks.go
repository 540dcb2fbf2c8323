package task

// Hooks is the extension point a domain-specific task kind supplies to
// NewBase. The state machine in Base is fixed; everything that varies by
// task kind lives here.
type Hooks interface {
	// Setup runs once, during the FLUSHED -> READY transition, to resolve
	// dependencies and register any notify edges the task needs. An error
	// forces the task straight to DONE without ever reaching RUNNING.
	Setup() error
	// Push begins the task's domain work. It is called once the task's
	// block count has reached zero (immediately, if it was already zero
	// when Setup returned). Callers that don't care about asynchronous
	// work can use SyncHooks, whose Push just calls Done.
	Push()
	// Finalise releases any resources the task acquired in Setup. It runs
	// once: for a slave at the slave's own Finish, for any other task when
	// it shuts down.
	Finalise()
}

// SyncHooks adapts a synchronous step function to Hooks for tests and
// simple callers that don't need asynchronous Push behaviour: Setup always
// succeeds, Push calls the step function then Done, Finalise is a no-op.
type SyncHooks struct {
	base *Base
	Step func()
}

// bind attaches the Base a SyncHooks instance drives its Push against.
// Called by NewBase whenever hooks is a *SyncHooks.
func (h *SyncHooks) bind(b *Base) { h.base = b }

func (h *SyncHooks) Setup() error { return nil }

func (h *SyncHooks) Push() {
	if h.Step != nil {
		h.Step()
	}
	h.base.Done()
}

func (h *SyncHooks) Finalise() {}
