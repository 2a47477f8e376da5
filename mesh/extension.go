package mesh

import "time"

// ExtState is an Extension's lifecycle state (spec.md §3).
type ExtState int

const (
	ExtStateInit ExtState = iota
	ExtStateOnConfigure
	ExtStateOnConfigureDone
	ExtStateOnInit
	ExtStateOnInitDone
	ExtStateOnStart
	ExtStateOnStartDone
	ExtStateOnStop
	ExtStateOnStopDone
	ExtStateOnDeinit
	ExtStateOnDeinitDone
	ExtStateClosing
)

func (s ExtState) String() string {
	switch s {
	case ExtStateInit:
		return "init"
	case ExtStateOnConfigure:
		return "on_configure"
	case ExtStateOnConfigureDone:
		return "on_configure_done"
	case ExtStateOnInit:
		return "on_init"
	case ExtStateOnInitDone:
		return "on_init_done"
	case ExtStateOnStart:
		return "on_start"
	case ExtStateOnStartDone:
		return "on_start_done"
	case ExtStateOnStop:
		return "on_stop"
	case ExtStateOnStopDone:
		return "on_stop_done"
	case ExtStateOnDeinit:
		return "on_deinit"
	case ExtStateOnDeinitDone:
		return "on_deinit_done"
	case ExtStateClosing:
		return "closing"
	}
	return "unknown"
}

// Handler is the user-supplied extension logic. Embed BaseHandler to get
// no-op defaults for callbacks you don't need, mirroring how the teacher's
// node implementations only had to satisfy the methods their graph shape
// actually used.
type Handler interface {
	OnConfigure(env *Env)
	OnInit(env *Env)
	OnStart(env *Env)
	OnStop(env *Env)
	OnDeinit(env *Env)
	OnCmd(env *Env, cmd *Message)
	OnData(env *Env, data *Message)
	OnAudioFrame(env *Env, frame *Message)
	OnVideoFrame(env *Env, frame *Message)
	OnCmdResult(env *Env, result *Message, cmd *Message)
}

// BaseHandler supplies default implementations of every Handler method:
// the lifecycle callbacks signal their Done immediately, and the message
// callbacks do nothing.
type BaseHandler struct{}

func (BaseHandler) OnConfigure(env *Env)                                   { env.OnConfigureDone() }
func (BaseHandler) OnInit(env *Env)                                       { env.OnInitDone() }
func (BaseHandler) OnStart(env *Env)                                      { env.OnStartDone() }
func (BaseHandler) OnStop(env *Env)                                       { env.OnStopDone() }
func (BaseHandler) OnDeinit(env *Env)                                     { env.OnDeinitDone() }
func (BaseHandler) OnCmd(env *Env, cmd *Message)                          {}
func (BaseHandler) OnData(env *Env, data *Message)                       {}
func (BaseHandler) OnAudioFrame(env *Env, frame *Message)                 {}
func (BaseHandler) OnVideoFrame(env *Env, frame *Message)                 {}
func (BaseHandler) OnCmdResult(env *Env, result *Message, cmd *Message)  {}

// Extension is one node of the running graph: a Handler plus the routing
// and path-tracking state the runtime maintains around it (spec.md §3).
type Extension struct {
	ThreadChecked

	Name      string
	AddonName string
	Loc       Location

	Props   *Value
	Schemas *SchemaStore

	InPaths  *PathTable
	OutPaths *PathTable

	// dests resolves an outbound message name (by kind) to its declared
	// destinations (msg_dest_runtime in spec.md §3), populated from the
	// graph snapshot at creation time.
	dests map[MsgType][]DestRule

	state   ExtState
	handler Handler
	thread  *ExtensionThread

	cmdTTL time.Duration
}

// NewExtension constructs an extension bound to no thread yet; ExtensionThread
// binds it (and stamps ThreadChecked) when it creates the instance.
func NewExtension(name, addonName string, handler Handler, dests map[MsgType][]DestRule) *Extension {
	e := &Extension{
		Name:      name,
		AddonName: addonName,
		Props:     NewObject(),
		Schemas:   NewSchemaStore(),
		dests:     dests,
		state:     ExtStateInit,
		handler:   handler,
		cmdTTL:    30 * time.Second,
	}
	e.InPaths = NewPathTable(nil)
	e.OutPaths = NewPathTable(e.onOutPathTimeout)
	return e
}

func (e *Extension) onOutPathTimeout(entry *OutPathEntry) {
	result := NewCmdResult(entry.Name, entry.CmdID, StatusError)
	result.Props = NewObject()
	result.Props.Set("detail", NewString("timeout"))
	if entry.Span != nil {
		EndDispatchSpan(entry.Span, nil, NewError(KindTimeout, "out-path %q timed out", entry.CmdID))
	}
	e.deliverResult(result)
}

// State returns the extension's current lifecycle state.
func (e *Extension) State() ExtState { return e.state }

// env builds the Env handed to the next Handler callback.
func (e *Extension) env() *Env { return &Env{ext: e} }

// configure drives INIT -> ON_CONFIGURE -> (blocks on OnConfigureDone).
func (e *Extension) configure() {
	e.state = ExtStateOnConfigure
	e.handler.OnConfigure(e.env())
}

// init drives ON_CONFIGURE_DONE -> ON_INIT -> (blocks on OnInitDone).
func (e *Extension) init() {
	e.state = ExtStateOnInit
	e.handler.OnInit(e.env())
}

// start drives ON_INIT_DONE -> ON_START -> (blocks on OnStartDone).
func (e *Extension) start() {
	e.state = ExtStateOnStart
	e.handler.OnStart(e.env())
}

// stop drives the close flow's first half: ON_START_DONE/NORMAL -> ON_STOP.
func (e *Extension) stop() {
	e.state = ExtStateOnStop
	e.handler.OnStop(e.env())
}

// deinit drives ON_STOP_DONE -> ON_DEINIT -> (blocks on OnDeinitDone).
func (e *Extension) deinit() {
	e.state = ExtStateOnDeinit
	e.handler.OnDeinit(e.env())
}

// dispatchIn delivers an inbound message to the handler, recording an
// in-path entry first if it is a command (spec.md §4.3: every in-flight
// command has exactly one in-path entry at its current owner).
func (e *Extension) dispatchIn(msg *Message) {
	switch msg.Type {
	case MsgTypeCmd:
		msg.EnsureCmdID()
		if err := e.Schemas.ValidateMessage(msg.Name, msg.Props); err != nil {
			e.replySchemaViolation(msg, err)
			return
		}
		e.InPaths.AddInPath(&InPathEntry{
			CmdID:   msg.CmdID,
			Name:    msg.Name,
			Src:     msg.Src,
			Arrived: time.Now(),
			Expiry:  time.Now().Add(e.cmdTTL),
		})
		e.handler.OnCmd(e.env(), msg)
	case MsgTypeData:
		if e.Schemas.ValidateMessage(msg.Name, msg.Props) != nil {
			return // no reply channel for data-kind messages; drop silently
		}
		e.handler.OnData(e.env(), msg)
	case MsgTypeAudio:
		if e.Schemas.ValidateMessage(msg.Name, msg.Props) != nil {
			return
		}
		e.handler.OnAudioFrame(e.env(), msg)
	case MsgTypeVideo:
		if e.Schemas.ValidateMessage(msg.Name, msg.Props) != nil {
			return
		}
		e.handler.OnVideoFrame(e.env(), msg)
	case MsgTypeCmdResult:
		e.deliverResult(msg)
	}
}

// replySchemaViolation answers a command whose properties failed schema
// validation with a synthetic ERROR result, since every command requires
// exactly one reply (spec.md §4.3).
func (e *Extension) replySchemaViolation(cmd *Message, err error) {
	result := NewCmdResult(cmd.Name, cmd.CmdID, StatusError)
	result.Props.Set("detail", NewString(err.Error()))
	result.Dest = []Location{cmd.Src}
	result.SetSrcTo(e.Loc)
	if e.thread != nil && e.thread.context != nil && e.thread.context.engine != nil {
		e.thread.context.engine.routeOutbound(result)
	}
}

// deliverResult resolves the out-path the result answers and, once the
// corresponding in-path entry is found, hands it to the handler's
// OnCmdResult (or forwards it if this extension was only relaying, which
// ExtensionThread's dispatch logic decides, not Extension itself).
func (e *Extension) deliverResult(result *Message) {
	outcome, ok := e.OutPaths.TakeOutPathForResult(result)
	if !ok {
		return
	}
	if e.thread != nil && e.thread.context != nil && e.thread.context.engine != nil && !outcome.Entry.Sent.IsZero() {
		app := e.thread.context.engine.App
		app.Metrics.ObserveDispatchLatencyMS(app.URI, outcome.Entry.Name, float64(time.Since(outcome.Entry.Sent).Milliseconds()))
	}
	if outcome.Entry.ResultConv != nil {
		result = outcome.Entry.ResultConv(result)
	}
	if !outcome.GroupDone && outcome.Entry.GroupID != "" {
		return // group still has outstanding members; nothing to deliver yet
	}
	if outcome.GroupReply != nil {
		result = outcome.GroupReply
	}
	if outcome.Entry.Span != nil {
		EndDispatchSpan(outcome.Entry.Span, result, nil)
	}
	if outcome.Entry.Callback != nil {
		outcome.Entry.Callback(result)
		return
	}
	e.handler.OnCmdResult(e.env(), result, nil)
}

// Thread returns the owning ExtensionThread, if bound.
func (e *Extension) Thread() *ExtensionThread { return e.thread }

// bindThread attaches e to its owning thread and stamps ThreadChecked so
// later calls can be checked against that thread's runloop.
func (e *Extension) bindThread(t *ExtensionThread) {
	e.thread = t
	e.Bind(t.loop)
}

// resolveDest looks up the declared destination(s) for an outbound message
// by kind and name (exact name match first, then a kind-wide wildcard entry
// with an empty MsgName).
func (e *Extension) resolveDest(kind MsgType, name string) []DestRule {
	rules := e.dests[kind]
	var matched []DestRule
	var wildcard []DestRule
	for _, r := range rules {
		if r.MsgName == name {
			matched = append(matched, r)
		} else if r.MsgName == "" {
			wildcard = append(wildcard, r)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return wildcard
}
