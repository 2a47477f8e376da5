package mesh

import (
	"testing"
	"time"
)

// newUnstartedThread builds a thread whose runloop is never run, so posted
// tasks just accumulate; this lets the queue-depth bookkeeping in
// PostInbound be asserted deterministically without a consumer goroutine
// racing the assertions.
func newUnstartedThread() *ExtensionThread {
	return NewExtensionThread("g1", nil)
}

func TestPostInboundDropsDataOverCapacity(t *testing.T) {
	th := newUnstartedThread()
	for i := 0; i < MaxExtensionThreadQueueSize; i++ {
		th.PostInbound(&Message{Type: MsgTypeData, Name: "tick"})
	}
	if th.queueLen != MaxExtensionThreadQueueSize {
		t.Fatalf("queueLen = %d, want %d", th.queueLen, MaxExtensionThreadQueueSize)
	}

	// One more data message pushes past capacity and must be dropped: the
	// queue length bookkeeping must not grow past the high-water mark.
	th.PostInbound(&Message{Type: MsgTypeData, Name: "overflow"})
	if th.queueLen != MaxExtensionThreadQueueSize {
		t.Errorf("queueLen after overflow = %d, want unchanged %d", th.queueLen, MaxExtensionThreadQueueSize)
	}
}

func TestPostInboundCommandOverCapacityDoesNotPanic(t *testing.T) {
	th := newUnstartedThread()
	for i := 0; i < MaxExtensionThreadQueueSize; i++ {
		th.PostInbound(&Message{Type: MsgTypeData, Name: "tick"})
	}

	cmd := NewCmd("do_work")
	cmd.Src = Location{ExtensionName: "caller"}

	// With no ExtensionContext/Engine wired (context is nil), the resource-
	// exhausted reply path must no-op safely rather than panic on a nil
	// engine dereference.
	th.PostInbound(cmd)
	if th.queueLen != MaxExtensionThreadQueueSize {
		t.Errorf("queueLen after rejected command = %d, want unchanged %d", th.queueLen, MaxExtensionThreadQueueSize)
	}
}

func TestPostInboundUnderCapacityIsQueuedNotDropped(t *testing.T) {
	th := newUnstartedThread()
	th.PostInbound(&Message{Type: MsgTypeData, Name: "tick"})
	if th.queueLen != 1 {
		t.Errorf("queueLen = %d, want 1", th.queueLen)
	}
}

type recordingHandler struct {
	BaseHandler
	got *[]string
}

func (h recordingHandler) OnData(env *Env, data *Message) { *h.got = append(*h.got, data.Name) }

// TestDeliverLocallyRepliesInvalidDestForMissingExtension exercises spec.md
// §4.5: a command addressed to an extension this thread doesn't have must
// get a synthesized ERROR cmd_result, not a silent drop. The thread is wired
// to a real ExtensionContext/Engine so the reply actually routes somewhere
// observable, the way it would in production.
func TestDeliverLocallyRepliesInvalidDestForMissingExtension(t *testing.T) {
	app := NewApp("app://test")
	eng := NewEngine(app)
	ctx := NewExtensionContext(eng)
	eng.extContext = ctx

	th := NewExtensionThread("g1", ctx)
	th.state = ThreadStateNormal

	cmd := NewCmd("do_work")
	cmd.CmdID = "cmd-1"
	cmd.Src = Location{AppURI: app.URI}

	done := make(chan *Message, 1)
	eng.PathTable.AddOutPath(&OutPathEntry{
		CmdID:  cmd.CmdID,
		Name:   cmd.Name,
		Dest:   Location{AppURI: app.URI, GroupName: "g1", ExtensionName: "missing"},
		Sent:   time.Now(),
		Expiry: time.Now().Add(5 * time.Second),
		Callback: func(result *Message) {
			done <- result
		},
	})

	th.deliverLocally(&Message{
		Type:  MsgTypeCmd,
		Name:  cmd.Name,
		CmdID: cmd.CmdID,
		Src:   cmd.Src,
		Dest:  []Location{{AppURI: app.URI, GroupName: "g1", ExtensionName: "missing"}},
	})

	select {
	case result := <-done:
		if result.Status != StatusError {
			t.Fatalf("Status = %v, want StatusError", result.Status)
		}
		v, ok := result.Props.Get("detail")
		if !ok {
			t.Fatal("expected a detail property on the error reply")
		}
		detail, _ := v.AsString()
		want := "The extension[missing] is invalid."
		if detail != want {
			t.Errorf("detail = %q, want %q", detail, want)
		}
	default:
		t.Fatal("expected deliverLocally to synthesise a reply instead of dropping the command")
	}
}

func TestEnterNormalFlushesBacklogInOrder(t *testing.T) {
	th := newUnstartedThread()
	var got []string
	ext := NewExtension("e1", "addon", recordingHandler{got: &got}, nil)
	ext.Loc = Location{ExtensionName: "e1"}
	ext.bindThread(th)
	th.extensions["e1"] = ext

	th.deliverLocally(&Message{Type: MsgTypeData, Name: "first", Dest: []Location{{ExtensionName: "e1"}}})
	th.deliverLocally(&Message{Type: MsgTypeData, Name: "second", Dest: []Location{{ExtensionName: "e1"}}})
	if len(got) != 0 {
		t.Fatalf("expected messages to buffer before NORMAL, got delivered: %v", got)
	}

	th.enterNormal()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("got %v, want [first second] in arrival order", got)
	}
}
