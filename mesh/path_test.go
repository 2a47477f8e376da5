package mesh

import (
	"testing"
	"time"
)

func TestPathTableInPathRoundTrip(t *testing.T) {
	pt := NewPathTable(nil)
	entry := &InPathEntry{CmdID: "cmd-1", Name: "ping", Arrived: time.Now()}
	pt.AddInPath(entry)

	if _, ok := pt.PeekInPath("cmd-1"); !ok {
		t.Fatal("expected in-path to be present after AddInPath")
	}
	got, ok := pt.TakeInPath("cmd-1")
	if !ok {
		t.Fatal("expected TakeInPath to find the entry")
	}
	if got.Name != "ping" {
		t.Errorf("Name = %q, want %q", got.Name, "ping")
	}
	if _, ok := pt.TakeInPath("cmd-1"); ok {
		t.Error("expected second TakeInPath to find nothing")
	}
}

func TestPathTableSingleOutPathSettlesImmediately(t *testing.T) {
	pt := NewPathTable(nil)
	pt.AddOutPath(&OutPathEntry{CmdID: "cmd-1", Name: "ping"})

	outcome, ok := pt.TakeOutPathForResult(&Message{CmdID: "cmd-1", Status: StatusOK})
	if !ok {
		t.Fatal("expected a settled outcome")
	}
	if outcome.Entry.GroupID != "" {
		t.Errorf("unexpected group id on a non-grouped entry")
	}
}

func TestPathTableGroupSettlesOnLastOKInArrivalOrder(t *testing.T) {
	pt := NewPathTable(nil)
	groupID := "group-1"
	pt.AddOutPath(&OutPathEntry{CmdID: "a", GroupID: groupID, GroupPolicy: GroupPolicyFirstErrorOrLastOK})
	pt.AddOutPath(&OutPathEntry{CmdID: "b", GroupID: groupID, GroupPolicy: GroupPolicyFirstErrorOrLastOK})
	pt.AddOutPath(&OutPathEntry{CmdID: "c", GroupID: groupID, GroupPolicy: GroupPolicyFirstErrorOrLastOK})

	// "a" arrives first: not done yet.
	outcome, ok := pt.TakeOutPathForResult(&Message{CmdID: "a", Status: StatusOK, Name: "first"})
	if !ok {
		t.Fatal("expected TakeOutPathForResult to find entry a")
	}
	if outcome.GroupDone {
		t.Error("group should not be done after only one of three members settles")
	}

	// "c" arrives second, out of declared order: still not done.
	outcome, ok = pt.TakeOutPathForResult(&Message{CmdID: "c", Status: StatusOK, Name: "third"})
	if !ok || outcome.GroupDone {
		t.Fatal("group should still not be done after two of three members settle")
	}

	// "b" arrives last: group settles on b's result (last in arrival order),
	// not c's (last in declaration order) or a's (first in either order).
	outcome, ok = pt.TakeOutPathForResult(&Message{CmdID: "b", Status: StatusOK, Name: "second"})
	if !ok {
		t.Fatal("expected TakeOutPathForResult to find entry b")
	}
	if !outcome.GroupDone {
		t.Fatal("group should be done once every member has reported in")
	}
	if outcome.GroupReply == nil || outcome.GroupReply.Name != "second" {
		t.Errorf("group reply = %v, want the result named %q (last in arrival order)", outcome.GroupReply, "second")
	}
}

func TestPathTableGroupFailsFastOnFirstError(t *testing.T) {
	pt := NewPathTable(nil)
	groupID := "group-2"
	pt.AddOutPath(&OutPathEntry{CmdID: "a", GroupID: groupID, GroupPolicy: GroupPolicyFirstErrorOrLastOK})
	pt.AddOutPath(&OutPathEntry{CmdID: "b", GroupID: groupID, GroupPolicy: GroupPolicyFirstErrorOrLastOK})

	outcome, ok := pt.TakeOutPathForResult(&Message{CmdID: "a", Status: StatusError, Name: "boom"})
	if !ok {
		t.Fatal("expected TakeOutPathForResult to find entry a")
	}
	if !outcome.GroupDone {
		t.Fatal("group should fail fast on the first error, without waiting for b")
	}
	if outcome.GroupReply == nil || outcome.GroupReply.Status != StatusError {
		t.Errorf("expected an error reply, got %v", outcome.GroupReply)
	}

	// b's eventual (late) result must not panic or resurrect the group.
	if _, ok := pt.TakeOutPathForResult(&Message{CmdID: "b", Status: StatusOK}); ok {
		t.Error("expected b's result to find nothing: group already settled and removed")
	}
}

func TestPathTableExpireOlderThan(t *testing.T) {
	pt := NewPathTable(nil)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	pt.AddOutPath(&OutPathEntry{CmdID: "expired", Expiry: past})
	pt.AddOutPath(&OutPathEntry{CmdID: "fresh", Expiry: future})

	expired := pt.ExpireOlderThan(time.Now())
	if len(expired) != 1 || expired[0].CmdID != "expired" {
		t.Fatalf("ExpireOlderThan = %v, want exactly [expired]", expired)
	}
	if pt.Len() != 1 {
		t.Errorf("Len() = %d, want 1 remaining (fresh)", pt.Len())
	}
}

func TestPathTableCancelAllClearsEverything(t *testing.T) {
	pt := NewPathTable(nil)
	pt.AddOutPath(&OutPathEntry{CmdID: "a"})
	pt.AddInPath(&InPathEntry{CmdID: "b"})

	cancelled := pt.CancelAll("stopped")
	if len(cancelled) != 1 || cancelled[0].CmdID != "a" {
		t.Fatalf("CancelAll = %v, want exactly [a]", cancelled)
	}
	if pt.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after CancelAll", pt.Len())
	}
	if _, ok := pt.PeekInPath("b"); ok {
		t.Error("expected in-paths to be cleared by CancelAll too")
	}
}
