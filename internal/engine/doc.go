// Package engine defines the contract between the gateway and the
// pluggable backends that execute commands.
//
// An Engine serves one query Language. Prepare turns a Command into an
// Invocation without doing any I/O; the Runner then drives the invocation
// through its lifecycle and hands the caller a StreamedResult.
//
// LIFECYCLE:
//
//	initial ──Run──▶ EXECUTE ──result delivered──▶ STREAM ──written──▶ COMPLETE
//	                    │                             │
//	                    └──────── cancel ─────────────┴──▶ ABORT
//
// From any state the invocation moves to DONE exactly once; that transition
// is the only place Invocation.Close is called. Whoever observes the
// invocation last (the Runner on failure or abort, the StreamedResult after
// writing or discarding) performs it.
//
// Cancellation is delivered through context.Context. The Runner registers a
// context.AfterFunc hook that aborts an executing invocation and calls
// Invocation.Cancel; once a result is handed out, cancellation happens by
// closing the result.
package engine
