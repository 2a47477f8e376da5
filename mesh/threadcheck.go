package mesh

import "sync/atomic"

// ThreadChecked is the debug-only ownership assertion spec.md §9 calls for:
// "in a systems-language rewrite [signatures and thread-check] collapse to
// typed references plus debug-only assertions." Rather than inspecting the
// calling OS thread (which Go does not expose portably), ownership is
// modeled explicitly as "which Runloop is the caller currently executing
// on" — every call site that matters (Extension/ExtensionThread method
// entry points) already knows this, since it is itself running inside a
// task posted to that very Runloop.
type ThreadChecked struct {
	owner atomic.Pointer[Runloop]
}

// Bind records loop as the owning runloop. Used at construction and at the
// documented ownership handoffs (engine -> extension-thread on extension
// instantiation; extension-thread -> engine on shutdown join).
func (t *ThreadChecked) Bind(loop *Runloop) {
	t.owner.Store(loop)
}

// Owner returns the currently bound runloop, or nil if never bound.
func (t *ThreadChecked) Owner() *Runloop {
	return t.owner.Load()
}

// CheckIntegrity fails (returns false) if current is not the bound owner.
// A nil current or a never-bound t both fail closed. ThreadAccessGuard
// (below) is the ergonomic wrapper most call sites should use instead of
// calling this directly.
func (t *ThreadChecked) CheckIntegrity(current *Runloop) bool {
	if current == nil {
		return false
	}
	return t.owner.Load() == current
}

// ThreadAccessGuard panics with an *Error of KindInvalidArgument if current
// is not t's bound owner. Builds that want check_integrity to be a no-op in
// release mode can short-circuit by constructing mesh with a build tag that
// stubs this out; this repo always checks, matching "debug-only assertions"
// being opt-out rather than compiled-out.
func ThreadAccessGuard(t *ThreadChecked, current *Runloop, what string) {
	if !t.CheckIntegrity(current) {
		panic(NewError(KindInvalidArgument, "thread-check violation: %s accessed off its owning runloop", what))
	}
}
