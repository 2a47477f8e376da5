package mesh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/meshrt/mesh/emit"
)

// ThreadState is an ExtensionThread's lifecycle state (spec.md §4.1).
type ThreadState int

const (
	ThreadStateInit ThreadState = iota
	ThreadStateCreatingExtensions
	ThreadStateNormal
	ThreadStatePrepareToClose
	ThreadStateClosed
)

// MaxExtensionThreadQueueSize bounds an ExtensionThread's inbound message
// queue (spec.md §4.1). Beyond it, data-kind messages are dropped silently;
// commands instead get an immediate synthetic ERROR result, since a command
// always needs exactly one reply.
const MaxExtensionThreadQueueSize = 12800

// ExtensionThread owns one or more Extensions that share a single runloop
// (an extension_group's members all run on the same thread, spec.md §4.1).
type ExtensionThread struct {
	ThreadChecked

	GroupName string
	loop      *Runloop
	context   *ExtensionContext

	mu         sync.Mutex
	state      ThreadState
	extensions map[string]*Extension
	pending    []*Message

	queueLen int64

	initDoneCount   int
	startDoneCount  int
	deinitDoneCount int
}

// NewExtensionThread constructs a thread bound to ctx, not yet started.
func NewExtensionThread(groupName string, ctx *ExtensionContext) *ExtensionThread {
	t := &ExtensionThread{
		GroupName:  groupName,
		loop:       NewRunloop(),
		context:    ctx,
		extensions: map[string]*Extension{},
	}
	t.Bind(t.loop)
	return t
}

// Start begins running the thread's runloop on a new goroutine.
func (t *ExtensionThread) Start() {
	go t.loop.Run()
}

// Stop requests the runloop exit once drained. Callers should first have
// driven every extension through ON_STOP/ON_DEINIT.
func (t *ExtensionThread) Stop() {
	t.loop.Stop()
}

// AddExtension registers ext on this thread and begins its configure/init
// sequence. Must be called on the thread's own runloop (during
// CREATING_EXTENSIONS).
func (t *ExtensionThread) AddExtension(ext *Extension) {
	ext.bindThread(t)
	t.mu.Lock()
	t.extensions[ext.Name] = ext
	t.state = ThreadStateCreatingExtensions
	t.mu.Unlock()
	ext.configure()
}

// onExtensionLifecycleAdvanced is the lifecycle driver: it is called (on
// the thread's own runloop, via Env's OnXxxDone methods) every time one
// extension's state changes, and decides the thread-wide transition.
func (t *ExtensionThread) onExtensionLifecycleAdvanced(ext *Extension) {
	switch ext.state {
	case ExtStateOnConfigureDone:
		ext.init()
	case ExtStateOnInitDone:
		t.mu.Lock()
		t.initDoneCount++
		allInited := t.initDoneCount >= len(t.extensions)
		t.mu.Unlock()
		if allInited {
			t.startAllExtensions()
		}
	case ExtStateOnStartDone:
		t.mu.Lock()
		t.startDoneCount++
		allStarted := t.startDoneCount >= len(t.extensions)
		t.mu.Unlock()
		if allStarted {
			t.enterNormal()
		}
	case ExtStateOnStopDone:
		ext.deinit()
	case ExtStateOnDeinitDone:
		t.mu.Lock()
		t.deinitDoneCount++
		allDeinited := t.deinitDoneCount >= len(t.extensions)
		t.mu.Unlock()
		ext.state = ExtStateClosing
		if allDeinited {
			t.mu.Lock()
			t.state = ThreadStateClosed
			t.mu.Unlock()
			if t.context != nil {
				t.context.onThreadClosed(t)
			}
		}
	}
}

func (t *ExtensionThread) startAllExtensions() {
	t.mu.Lock()
	exts := make([]*Extension, 0, len(t.extensions))
	for _, e := range t.extensions {
		exts = append(exts, e)
	}
	t.mu.Unlock()
	for _, e := range exts {
		e.start()
	}
}

// enterNormal flips the thread to NORMAL and flushes every message that
// arrived while extensions were still starting (spec.md §4.1: "messages
// arriving before NORMAL buffer FIFO, then replay in order").
func (t *ExtensionThread) enterNormal() {
	t.mu.Lock()
	t.state = ThreadStateNormal
	backlog := t.pending
	t.pending = nil
	t.mu.Unlock()

	if t.context != nil && t.context.engine != nil {
		t.context.engine.App.Emitter.Emit(emit.Event{
			AppURI:  t.context.engine.App.URI,
			GraphID: t.context.engine.GraphID,
			Loc:     t.GroupName,
			Msg:     "extension group running",
		})
	}

	for _, m := range backlog {
		t.deliverLocally(m)
	}
}

// PostInbound is the entry point Engine dispatch uses to hand msg to this
// thread. It applies the bounded-queue drop policy before posting.
func (t *ExtensionThread) PostInbound(msg *Message) {
	n := atomic.AddInt64(&t.queueLen, 1)
	t.reportQueueDepth(n)
	if n > MaxExtensionThreadQueueSize {
		atomic.AddInt64(&t.queueLen, -1)
		if msg.Type == MsgTypeCmd {
			t.replyResourceExhausted(msg)
		}
		return
	}
	t.loop.PostTail(func(interface{}) {
		n := atomic.AddInt64(&t.queueLen, -1)
		t.reportQueueDepth(n)
		t.deliverLocally(msg)
	}, nil)
}

func (t *ExtensionThread) reportQueueDepth(n int64) {
	if t.context == nil || t.context.engine == nil || t.context.engine.App == nil {
		return
	}
	t.context.engine.App.Metrics.SetQueueDepth(t.context.engine.App.URI, t.GroupName, int(n))
}

func (t *ExtensionThread) replyResourceExhausted(cmd *Message) {
	cmd.EnsureCmdID()
	result := NewCmdResult(cmd.Name, cmd.CmdID, StatusError)
	result.Props.Set("detail", NewString("extension thread queue exhausted"))
	result.Dest = []Location{cmd.Src}
	if t.context != nil && t.context.engine != nil {
		t.context.engine.App.Emitter.Emit(emit.Event{
			AppURI:  t.context.engine.App.URI,
			GraphID: t.context.engine.GraphID,
			Loc:     t.GroupName,
			Msg:     "command dropped: queue exhausted",
			Meta:    map[string]interface{}{"cmd_name": cmd.Name, "cmd_id": cmd.CmdID},
		})
		t.context.engine.routeOutbound(result)
	}
}

// deliverLocally hands msg to its destination extension, buffering it if
// the thread has not yet reached NORMAL.
func (t *ExtensionThread) deliverLocally(msg *Message) {
	t.mu.Lock()
	if t.state != ThreadStateNormal {
		t.pending = append(t.pending, msg)
		t.mu.Unlock()
		return
	}
	var destName string
	var dest *Extension
	if len(msg.Dest) > 0 {
		destName = msg.Dest[0].ExtensionName
		dest = t.extensions[destName]
	}
	t.mu.Unlock()
	if dest == nil {
		if msg.Type == MsgTypeCmd {
			t.replyInvalidDest(msg, destName)
		}
		return
	}
	dest.dispatchIn(msg)
}

// replyInvalidDest synthesises the ERROR cmd_result spec.md §4.5 requires
// when a command names an extension this thread doesn't have, mirroring
// replyResourceExhausted.
func (t *ExtensionThread) replyInvalidDest(cmd *Message, name string) {
	cmd.EnsureCmdID()
	result := NewCmdResult(cmd.Name, cmd.CmdID, StatusError)
	result.Props.Set("detail", NewString(fmt.Sprintf("The extension[%s] is invalid.", name)))
	result.Dest = []Location{cmd.Src}
	if t.context != nil && t.context.engine != nil {
		t.context.engine.App.Emitter.Emit(emit.Event{
			AppURI:  t.context.engine.App.URI,
			GraphID: t.context.engine.GraphID,
			Loc:     t.GroupName,
			Msg:     "command dropped: invalid destination extension",
			Meta:    map[string]interface{}{"cmd_name": cmd.Name, "cmd_id": cmd.CmdID, "extension": name},
		})
		t.context.engine.routeOutbound(result)
	}
}

// sendFromExtension implements Env.SendCmd/SendData: resolve the message's
// destination(s) from the graph-declared routing table (unless the caller
// already set explicit Dest), register an out-path for commands, and hand
// off to the owning Engine for routing (which may be a same-thread extension,
// a different thread in the same engine, or a remote app).
func (t *ExtensionThread) sendFromExtension(ext *Extension, msg *Message, resultCb func(result *Message, err error)) error {
	var rules []DestRule
	if len(msg.Dest) == 0 {
		rules = ext.resolveDest(msg.Type, msg.Name)
		if len(rules) == 0 {
			return NewError(KindInvalidGraph, "extension %q has no declared destination for %s %q", ext.Name, msg.Type, msg.Name)
		}
	} else {
		for _, d := range msg.Dest {
			rules = append(rules, DestRule{Dest: d})
		}
	}
	msg.SetSrcTo(ext.Loc)

	if msg.Type != MsgTypeCmd {
		for _, r := range rules {
			out, err := ApplyConversion(r.Conversion, msg)
			if err != nil {
				return err
			}
			out.Dest = []Location{r.Dest}
			if t.context != nil && t.context.engine != nil {
				t.context.engine.routeOutbound(out)
			}
		}
		return nil
	}

	msg.EnsureCmdID()
	groupID := ""
	if len(rules) > 1 {
		groupID = msg.CmdID
	}
	for _, r := range rules {
		individual, err := ApplyConversion(r.Conversion, msg)
		if err != nil {
			return err
		}
		individual.CmdID = msg.CmdID
		if len(rules) > 1 {
			individual.CmdID = msg.CmdID + ":" + r.Dest.String()
		}
		individual.Dest = []Location{r.Dest}

		_, span := StartDispatchSpan(context.Background(), individual)
		entry := &OutPathEntry{
			CmdID:       individual.CmdID,
			Name:        msg.Name,
			Dest:        r.Dest,
			Sent:        time.Now(),
			Expiry:      time.Now().Add(30 * time.Second),
			GroupID:     groupID,
			GroupPolicy: GroupPolicyFirstErrorOrLastOK,
			ResultConv:  AsResultConversion(r.Conversion),
			Span:        span,
		}
		if resultCb != nil {
			entry.Callback = func(result *Message) { resultCb(result, nil) }
		}
		ext.OutPaths.AddOutPath(entry)

		if t.context != nil && t.context.engine != nil {
			t.context.engine.routeOutbound(individual)
		}
	}
	return nil
}

// returnResultFromExtension implements Env.ReturnResult: consume the
// in-path entry the original command left behind and route the result back
// toward its source.
func (t *ExtensionThread) returnResultFromExtension(ext *Extension, result *Message, forCmd *Message) error {
	cmdID := result.CmdID
	if cmdID == "" && forCmd != nil {
		cmdID = forCmd.CmdID
	}
	entry, ok := ext.InPaths.TakeInPath(cmdID)
	if !ok {
		return NewError(KindNotFound, "no in-path for cmd_result %q", cmdID)
	}
	if result.Status == StatusOK {
		if err := ext.Schemas.ValidateResult(entry.Name, result.Props); err != nil {
			return err
		}
	}
	result.CmdID = cmdID
	result.Dest = []Location{entry.Src}
	result.SetSrcTo(ext.Loc)
	if t.context != nil && t.context.engine != nil {
		t.context.engine.routeOutbound(result)
	}
	return nil
}

// beginStop starts the close flow for every extension on this thread:
// ON_START_DONE/NORMAL -> ON_STOP, one extension after another on this
// thread (spec.md §4.8 "every extension in the group receives on_stop").
func (t *ExtensionThread) beginStop() {
	t.mu.Lock()
	t.state = ThreadStatePrepareToClose
	exts := make([]*Extension, 0, len(t.extensions))
	for _, e := range t.extensions {
		exts = append(exts, e)
	}
	t.mu.Unlock()
	for _, e := range exts {
		e.stop()
	}
}
