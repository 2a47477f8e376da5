package mesh

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// GroupPolicy governs how a fan-out of out-paths settles into a single
// reply for the in-path that spawned them.
type GroupPolicy int

const (
	// GroupPolicyNone means the out-path is not part of a fan-out group.
	GroupPolicyNone GroupPolicy = iota
	// GroupPolicyFirstErrorOrLastOK fails fast on the first ERROR result in
	// the group; absent any error, the group settles on the last OK result
	// observed in arrival order (see SPEC_FULL.md open-question decision).
	GroupPolicyFirstErrorOrLastOK
)

// ResultConversion rewrites an inbound cmd_result's properties before it is
// handed back along an in-path, mirroring the msg_conversion result side.
type ResultConversion func(result *Message) *Message

// InPathEntry records "command Name of id CmdID arrived from extension Src
// at time Arrived with expiry Arrived+TTL".
type InPathEntry struct {
	CmdID   string
	Name    string
	Src     Location
	Arrived time.Time
	Expiry  time.Time
}

// OutPathEntry records "command Name of id CmdID was forwarded to Dest, and
// any result must flow back along the chain." Group fields are populated
// when this out-path is one of several spawned by a single in-path
// (conversion fan-out or cross-app fan-out per spec.md §4.6/§4.7).
type OutPathEntry struct {
	CmdID        string
	Name         string
	Dest         Location
	Sent         time.Time
	Expiry       time.Time
	ResultConv   ResultConversion
	GroupID      string
	GroupPolicy  GroupPolicy
	ParentInPath string // CmdID of the in-path entry this out-path serves

	// Callback, if set, is invoked directly with the settled result instead
	// of routing through the owning extension's OnCmdResult handler. Used
	// for SendCmd's request/response ergonomics (spec.md §6 "caller posts a
	// command and is later handed its result").
	Callback func(result *Message)

	// Span, if set, covers this command's dispatch and is ended with the
	// settled result (or timeout) once this out-path resolves.
	Span trace.Span
}

// groupState accumulates arriving results for a fan-out group until every
// member out-path has settled, then produces the one reply for the parent
// in-path.
type groupState struct {
	remaining map[string]bool // outPath CmdID -> still pending
	lastOK    *Message        // last OK result seen, in arrival order
	errResult *Message        // first ERROR result seen, if any
}

// PathTable tracks in-flight commands for one owner (an Extension or an
// Engine). Every entry is eventually resolved, cancelled, or timed out; none
// leak (spec.md invariant + testable property "Path-table settlement").
type PathTable struct {
	mu       sync.Mutex
	inPaths  map[string]*InPathEntry
	outPaths map[string]*OutPathEntry
	groups   map[string]*groupState

	// onTimeout is invoked (off the lock) when an out-path entry expires
	// without a matching result; it synthesises the ERROR cmd_result.
	onTimeout func(entry *OutPathEntry)
}

// NewPathTable constructs an empty table. onTimeout may be nil for tables
// that never register timers (tests exercising the table directly).
func NewPathTable(onTimeout func(entry *OutPathEntry)) *PathTable {
	return &PathTable{
		inPaths:   map[string]*InPathEntry{},
		outPaths:  map[string]*OutPathEntry{},
		groups:    map[string]*groupState{},
		onTimeout: onTimeout,
	}
}

// AddInPath records an inbound command awaiting forward completion.
func (t *PathTable) AddInPath(e *InPathEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inPaths[e.CmdID] = e
}

// TakeInPath removes and returns the in-path entry for cmdID, if present.
func (t *PathTable) TakeInPath(cmdID string) (*InPathEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.inPaths[cmdID]
	if ok {
		delete(t.inPaths, cmdID)
	}
	return e, ok
}

// PeekInPath returns the in-path entry for cmdID without removing it.
func (t *PathTable) PeekInPath(cmdID string) (*InPathEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.inPaths[cmdID]
	return e, ok
}

// AddOutPath records a command forwarded elsewhere, awaiting its result. If
// e.GroupID is non-empty, e joins (creating if needed) that fan-out group.
func (t *PathTable) AddOutPath(e *OutPathEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outPaths[e.CmdID] = e
	if e.GroupID != "" {
		g, ok := t.groups[e.GroupID]
		if !ok {
			g = &groupState{remaining: map[string]bool{}}
			t.groups[e.GroupID] = g
		}
		g.remaining[e.CmdID] = true
	}
}

// ResolveOutcome is what TakeOutPathForResult reports about a
// resolved out-path: whether the caller (single out-path, or settled
// group) should now receive a reply, and what that reply's raw material
// is.
type ResolveOutcome struct {
	Entry      *OutPathEntry
	GroupDone  bool // true if this resolved a fan-out group (Entry.GroupID != "")
	GroupReply *Message
}

// TakeOutPathForResult removes the out-path entry matching result.CmdID and,
// if it belongs to a fan-out group, updates the group's accumulated state.
// The bool reports whether an out-path matched result.CmdID. For a grouped
// out-path, GroupDone reports whether the group has settled: once every
// member has reported in, or the group policy short-circuits on an error,
// in which case the remaining members' out-paths are removed too.
func (t *PathTable) TakeOutPathForResult(result *Message) (ResolveOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.outPaths[result.CmdID]
	if !ok {
		return ResolveOutcome{}, false
	}
	delete(t.outPaths, result.CmdID)

	if e.GroupID == "" {
		return ResolveOutcome{Entry: e, GroupDone: false}, true
	}

	g := t.groups[e.GroupID]
	if g == nil {
		return ResolveOutcome{Entry: e, GroupDone: true, GroupReply: result}, true
	}
	delete(g.remaining, e.CmdID)

	if result.Status == StatusError && e.GroupPolicy == GroupPolicyFirstErrorOrLastOK {
		if g.errResult == nil {
			g.errResult = result
		}
	} else {
		g.lastOK = result
	}

	if len(g.remaining) > 0 {
		// Group still has outstanding members; fail fast only if this
		// policy's short-circuit condition is met.
		if g.errResult != nil && e.GroupPolicy == GroupPolicyFirstErrorOrLastOK {
			for id := range g.remaining {
				delete(t.outPaths, id)
			}
			delete(t.groups, e.GroupID)
			return ResolveOutcome{Entry: e, GroupDone: true, GroupReply: g.errResult}, true
		}
		return ResolveOutcome{Entry: e, GroupDone: false}, true
	}

	delete(t.groups, e.GroupID)
	if g.errResult != nil {
		return ResolveOutcome{Entry: e, GroupDone: true, GroupReply: g.errResult}, true
	}
	return ResolveOutcome{Entry: e, GroupDone: true, GroupReply: g.lastOK}, true
}

// CancelAll removes and returns every outstanding out-path and clears the
// in-paths and groups too. It builds no results itself (detail is not
// used); the caller answers each returned entry, as Engine.StopGraph does
// with an ERROR cmd_result.
func (t *PathTable) CancelAll(detail string) []*OutPathEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*OutPathEntry, 0, len(t.outPaths))
	for _, e := range t.outPaths {
		out = append(out, e)
	}
	t.outPaths = map[string]*OutPathEntry{}
	t.groups = map[string]*groupState{}
	t.inPaths = map[string]*InPathEntry{}
	return out
}

// ExpireOlderThan removes and returns out-path entries whose Expiry is
// before now, for the timer-driven sweep described in spec.md §4.3.
func (t *PathTable) ExpireOlderThan(now time.Time) []*OutPathEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*OutPathEntry
	for id, e := range t.outPaths {
		if e.Expiry.Before(now) {
			expired = append(expired, e)
			delete(t.outPaths, id)
			if e.GroupID != "" {
				if g, ok := t.groups[e.GroupID]; ok {
					delete(g.remaining, id)
					if len(g.remaining) == 0 {
						delete(t.groups, e.GroupID)
					}
				}
			}
		}
	}
	return expired
}

// Len reports the number of outstanding out-paths, for tests/metrics.
func (t *PathTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outPaths)
}
