package task

// Notify is a pending dependency edge: downstream is waiting on this task,
// recorded by AddNotify and resolved by Emit/NotifyAll.
type Notify struct {
	Downstream *Base
	// Follow marks the edge as eligible for the same-execution-context
	// latency optimisation: downstream shares this task's accessor, so if
	// this task has no slaves the edge is delivered straight from Emit
	// instead of waiting for Done.
	Follow bool
}
