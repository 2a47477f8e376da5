// Package emit provides pluggable observability for a running mesh: every
// lifecycle transition and dispatch decision can be fanned out to logging,
// tracing, or metrics backends without the router itself knowing which.
package emit

import "context"

// Emitter receives runtime events. Implementations must not block the
// runloop that calls Emit/EmitBatch — buffer internally and flush
// asynchronously if the backend is slow.
type Emitter interface {
	// Emit sends a single event. Must not panic; log and drop on failure.
	Emit(event Event)

	// EmitBatch sends events in original order. Returns an error only for
	// configuration-level failures, never for a single bad event.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until every buffered event has been sent or ctx expires.
	// Safe to call more than once.
	Flush(ctx context.Context) error
}
