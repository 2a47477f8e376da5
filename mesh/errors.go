// Package mesh implements the in-process graph scheduler and message router:
// the App -> Engine -> ExtensionContext -> ExtensionThread -> Extension
// lifecycle, the dispatcher that routes messages within and across apps, the
// per-thread cooperative runloop, the remote layer, and the addon registry.
package mesh

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies a runtime error the way spec'd error kinds are surfaced
// back to callers: either as a function return, or baked into an ERROR
// cmd_result's Detail field.
type Kind string

const (
	// KindInvalidArgument means the caller misused an API (nil/empty args,
	// malformed property paths, etc).
	KindInvalidArgument Kind = "invalid_argument"
	// KindInvalidGraph means a start_graph payload's nodes/connections are
	// inconsistent (dangling reference, conflicting addon redeclaration).
	KindInvalidGraph Kind = "invalid_graph"
	// KindInvalidJSON means a message or manifest failed to parse.
	KindInvalidJSON Kind = "invalid_json"
	// KindTimeout means a path-table entry expired before its result arrived.
	KindTimeout Kind = "timeout"
	// KindNotFound means the target extension, group, or addon does not exist.
	KindNotFound Kind = "not_found"
	// KindGeneric covers everything else.
	KindGeneric Kind = "generic"
)

// Error is the runtime's error type. It wraps a cockroachdb/errors chain so
// callers get stack traces for free, while exposing the Kind the spec's
// propagation policy dispatches on.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

// NewError builds an Error of the given kind with a formatted detail string.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	detail := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Detail: detail, cause: errors.NewWithDepth(1, detail)}
}

// WrapError attaches a Kind to an existing error, preserving its cause chain.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	detail := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Detail: detail, cause: errors.WrapWithDepth(1, cause, detail)}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return e.Detail
}

// Unwrap exposes the underlying cockroachdb/errors chain to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}
