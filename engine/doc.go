// Copyright 2022 Molecula Corp. All rights reserved.

// Package engine provides a per-accessor worker pool for running task
// payloads off the manager goroutine.
//
// The task graph's accessor field names a GPU or CPU execution context but
// never says what actually drains it. Without something running Push
// bodies concurrently, every accessor behaves as if Push called Done
// inline, and nothing in the graph ever overlaps. engine.Pool supplies
// that: one pool per accessor, sized for the concurrency that accessor can
// actually sustain, draining a queue of payloads and reporting Done back to
// the task that submitted them.
//
// The pool keeps the Block/Unblock convention from the worker pool it's
// adapted from: a payload that is about to block on something outside the
// pool's view (a slow read on another accessor's allocation, say) calls
// Block before doing so and Unblock after, letting the pool grow to keep
// the target concurrency busy instead of stalling the whole accessor.
//
// That growth isn't appropriate for every accessor, though. A GPU accessor
// stands in for a fixed number of physical compute queues: spawning a
// worker beyond that count doesn't add real concurrency, it just adds a
// goroutine contending for the same hardware. A CPU accessor has no such
// ceiling. The dispatcher classifies accessors by name and passes each
// pool a maxLive cap accordingly -- GPU-like accessors stay pinned at
// their target under Block, everything else grows elastically the way the
// pool always has.
package engine
