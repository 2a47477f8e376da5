package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/meshrt/mesh/emit"
	"github.com/relaymesh/meshrt/mesh/transport"
)

// EngineState is the graph-level lifecycle state (spec.md §4.7/§4.8).
type EngineState int

const (
	EngineStateInit EngineState = iota
	EngineStateStarting
	EngineStateRunning
	EngineStateStopping
	EngineStateClosed
)

// Engine owns one running graph: its extension context, its cross-app
// routing (remotes), and the path table tracking commands that cross an
// engine boundary (spec.md §2, §4.7).
type Engine struct {
	GraphID string
	App     *App
	loop    *Runloop

	extContext *ExtensionContext
	PathTable  *PathTable

	mu              sync.Mutex
	state           EngineState
	graph           *GraphDecl
	longRunningMode bool
	originalStartCmd *Message

	remotes     map[string]*Remote // connected, keyed by app uri
	weakRemotes map[string]*Remote
}

// NewEngine constructs an engine for a freshly-generated graph id, owned by
// app, running on its own runloop (spec.md "an Engine may own its own
// runloop or share the App's").
func NewEngine(app *App) *Engine {
	return newEngineWithGraphID(app, uuid.NewString())
}

// newEngineWithGraphID is NewEngine generalised to an explicit graph id, so
// an app joining a graph another app started (spec.md §4.7
// App.on_start_graph) reuses that graph's id instead of minting its own.
func newEngineWithGraphID(app *App, graphID string) *Engine {
	e := &Engine{
		GraphID:     graphID,
		App:         app,
		loop:        NewRunloop(),
		remotes:     map[string]*Remote{},
		weakRemotes: map[string]*Remote{},
	}
	e.extContext = NewExtensionContext(e)
	e.PathTable = NewPathTable(e.onOutPathExpired)
	go e.loop.Run()
	return e
}

func (e *Engine) onOutPathExpired(entry *OutPathEntry) {
	result := NewCmdResult(entry.Name, entry.CmdID, StatusError)
	result.Props.Set("detail", NewString("timeout"))
	if entry.Span != nil {
		EndDispatchSpan(entry.Span, nil, NewError(KindTimeout, "out-path %q timed out", entry.CmdID))
	}
	e.deliverEngineResult(result)
}

// StartGraph implements spec.md §4.7: parse and validate the graph
// declaration, synthesize default extension groups (§4.7.1), connect any
// other apps the graph immediately mentions (§4.6/§4.7), then start every
// local group's thread and extensions (§4.7.2).
func (e *Engine) StartGraph(decl *GraphDecl, startCmd *Message) error {
	decl.synthesizeDefaultGroups()
	if err := decl.validate(); err != nil {
		e.replyStartGraphResult(startCmd, err)
		return err
	}

	e.mu.Lock()
	e.state = EngineStateStarting
	e.graph = decl
	e.longRunningMode = decl.LongRunningMode
	e.originalStartCmd = startCmd
	e.mu.Unlock()

	connectable := decl.immediateConnectableApps(e.App.URI)

	var err error
	if len(connectable) == 0 {
		err = e.enableExtensionSystem(decl)
	} else {
		err = e.connectToGraphRemotes(decl, connectable)
	}
	e.replyStartGraphResult(startCmd, err)
	return err
}

// enableExtensionSystem is the tail of spec.md §4.7.2: build the local
// routing tables and start every locally-owned extension group's thread.
func (e *Engine) enableExtensionSystem(decl *GraphDecl) error {
	extInfos, groupInfos, byGroup := e.buildGraphInfo(decl)
	e.extContext.SetGraphInfo(extInfos, groupInfos)

	for groupName, infos := range byGroup {
		err := e.extContext.StartExtensionGroup(groupName, infos, func(info *ExtensionInfo) (Handler, error) {
			return e.createExtensionHandler(info)
		})
		if err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.state = EngineStateRunning
	e.mu.Unlock()
	e.App.Emitter.Emit(emit.Event{AppURI: e.App.URI, GraphID: e.GraphID, Msg: "graph running"})
	return nil
}

// replyStartGraphResult answers startCmd (the command that asked this
// engine to start, whether a direct caller or a sibling app's child
// start_graph) once the graph has settled one way or the other. startCmd is
// nil when the graph was started locally via App.StartGraph/StartGraphWithID
// with no remote waiting on a reply.
func (e *Engine) replyStartGraphResult(startCmd *Message, err error) {
	if startCmd == nil {
		return
	}
	var result *Message
	if err != nil {
		result = NewCmdResult(startCmd.Name, startCmd.CmdID, StatusError)
		result.Props.Set("detail", NewString(err.Error()))
	} else {
		result = NewCmdResult(startCmd.Name, startCmd.CmdID, StatusOK)
		result.Props.Set("detail", NewString(e.GraphID))
	}
	result.Dest = []Location{startCmd.Src}
	e.routeOutbound(result)
}

// dialRemote resolves this app's protocol-dialer addon to open a connection
// to appURI (spec.md §4.6). There is no dialer addon configured, a graph
// naming an unreachable app is a configuration error, not a retryable one.
func (e *Engine) dialRemote(appURI string) (*Remote, error) {
	if e.App.DialAddon == "" {
		return nil, NewError(KindNotFound, "app %q has no dial addon configured, cannot reach %q", e.App.URI, appURI)
	}
	done := make(chan struct {
		r   *Remote
		err error
	}, 1)
	e.App.Registry.Protocols.CreateInstanceAsync(e.App.Registry.AddonLoaders, e.App.DialAddon, appURI, func(instance interface{}, err error) {
		if err != nil {
			done <- struct {
				r   *Remote
				err error
			}{nil, err}
			return
		}
		proto, ok := instance.(transport.Protocol)
		if !ok {
			done <- struct {
				r   *Remote
				err error
			}{nil, NewError(KindInvalidArgument, "dial addon %q did not produce a transport.Protocol", e.App.DialAddon)}
			return
		}
		done <- struct {
			r   *Remote
			err error
		}{NewRemote(appURI, e, proto, e.App.Log), nil}
	})
	res := <-done
	return res.r, res.err
}

// remoteFor returns the remote connection to appURI this engine should use,
// creating one if needed. An already-registered remote (strong or weak) is
// reused; failing that, a connection the peer already dialed in is claimed
// before this side ever dials out, so two apps racing to connect each other
// never both place an outbound call (spec.md §4.6).
func (e *Engine) remoteFor(appURI string) (remote *Remote, isNew bool, err error) {
	e.mu.Lock()
	if r, ok := e.remotes[appURI]; ok {
		e.mu.Unlock()
		return r, false, nil
	}
	if r, ok := e.weakRemotes[appURI]; ok {
		e.mu.Unlock()
		return r, false, nil
	}
	e.mu.Unlock()

	if r, ok := e.App.ClaimOrphanRemote(appURI); ok {
		e.RegisterRemote(appURI, r, true)
		return r, false, nil
	}

	r, err := e.dialRemote(appURI)
	if err != nil {
		return nil, false, err
	}
	e.RegisterRemote(appURI, r, true)
	return r, true, nil
}

// childStartGraphCmd builds the start_graph this engine sends to appURI to
// propagate decl there (spec.md §4.7): the receiving app joins this same
// graph_id rather than minting its own, so every participating app's engine
// shares one identity for the graph instance.
func (e *Engine) childStartGraphCmd(decl *GraphDecl, appURI string) (*Message, error) {
	propagated := *decl
	propagated.PredefinedGraph = ""
	val, err := propagated.ToValue()
	if err != nil {
		return nil, err
	}
	cmd := NewCmd(CmdStartGraph)
	cmd.Props = val
	cmd.EnsureCmdID()
	cmd.SetSrcTo(Location{AppURI: e.App.URI})
	cmd.Dest = []Location{{AppURI: appURI, GraphID: e.GraphID}}
	return cmd, nil
}

// connectToGraphRemotes implements spec.md §4.6/§4.7: dial or reuse a
// connection to every app the graph immediately mentions, send each a child
// start_graph naming this graph's id, and wait for all of them to settle
// before enabling the local extension system. A remote already bound to
// this engine (reused rather than freshly dialed) is assumed already
// running this graph and is not sent another start_graph.
func (e *Engine) connectToGraphRemotes(decl *GraphDecl, appURIs []string) error {
	type target struct {
		uri    string
		remote *Remote
	}
	var fresh []target
	for _, appURI := range appURIs {
		r, isNew, err := e.remoteFor(appURI)
		if err != nil {
			return err
		}
		if isNew {
			fresh = append(fresh, target{uri: appURI, remote: r})
		}
	}

	if len(fresh) == 0 {
		return e.enableExtensionSystem(decl)
	}

	done := make(chan *Message, 1)
	groupID := ""
	if len(fresh) > 1 {
		groupID = uuid.NewString()
	}
	for _, tgt := range fresh {
		cmd, err := e.childStartGraphCmd(decl, tgt.uri)
		if err != nil {
			return err
		}
		e.PathTable.AddOutPath(&OutPathEntry{
			CmdID:       cmd.CmdID,
			Name:        cmd.Name,
			Dest:        cmd.Dest[0],
			Sent:        time.Now(),
			Expiry:      time.Now().Add(30 * time.Second),
			GroupID:     groupID,
			GroupPolicy: GroupPolicyFirstErrorOrLastOK,
			Callback:    func(result *Message) { done <- result },
		})
		go tgt.remote.Run(context.Background())
		if err := tgt.remote.Send(cmd); err != nil {
			return err
		}
	}

	result := <-done
	if result.Status == StatusError {
		reason := "remote start_graph failed"
		if detail, ok := result.Props.Get("detail"); ok {
			if s, ok := detail.AsString(); ok {
				reason = s
			}
		}
		return NewError(KindGeneric, "%s", reason)
	}

	for _, tgt := range fresh {
		e.RegisterRemote(tgt.uri, tgt.remote, false)
	}
	return e.enableExtensionSystem(decl)
}

// createExtensionHandler resolves an addon via the App's extension addon
// store (falling back to registered addon-loaders), bridging the async
// CreateInstanceAsync callback to a synchronous return since Go addons
// registered in-process resolve immediately (spec.md §9 REDESIGN FLAG on
// dynamic loading).
func (e *Engine) createExtensionHandler(info *ExtensionInfo) (Handler, error) {
	done := make(chan struct {
		h   Handler
		err error
	}, 1)
	e.App.Registry.Extensions.CreateInstanceAsync(e.App.Registry.AddonLoaders, info.Addon, info.Loc.ExtensionName, func(instance interface{}, err error) {
		if err != nil {
			done <- struct {
				h   Handler
				err error
			}{nil, err}
			return
		}
		h, ok := instance.(Handler)
		if !ok {
			done <- struct {
				h   Handler
				err error
			}{nil, NewError(KindInvalidArgument, "addon %q did not produce a Handler", info.Addon)}
			return
		}
		done <- struct {
			h   Handler
			err error
		}{h, nil}
	})
	res := <-done
	return res.h, res.err
}

// buildGraphInfo turns a validated GraphDecl into the lookup structures
// ExtensionContext and routing need: per-extension dest tables, grouped by
// owning extension_group. byGroup is filtered to nodes belonging to this
// app (spec.md §4.7.2): a node another app owns is that app's engine's job
// to instantiate, not this one's, once the graph spans more than one app.
func (e *Engine) buildGraphInfo(decl *GraphDecl) (map[string]*ExtensionInfo, map[string]*ExtensionGroupInfo, map[string][]*ExtensionInfo) {
	destsByLoc := map[string]map[MsgType][]DestRule{}
	for _, c := range decl.Connections {
		key := c.Src.String()
		d := destsByLoc[key]
		if d == nil {
			d = map[MsgType][]DestRule{}
			destsByLoc[key] = d
		}
		d[MsgTypeCmd] = append(d[MsgTypeCmd], c.Cmd...)
		d[MsgTypeData] = append(d[MsgTypeData], c.Data...)
		d[MsgTypeAudio] = append(d[MsgTypeAudio], c.AudioFrame...)
		d[MsgTypeVideo] = append(d[MsgTypeVideo], c.VideoFrame...)
	}

	extInfos := map[string]*ExtensionInfo{}
	groupInfos := map[string]*ExtensionGroupInfo{}
	byGroup := map[string][]*ExtensionInfo{}

	for _, n := range decl.Nodes {
		appURI := n.App
		if appURI == "" {
			appURI = e.App.URI
		}
		if n.Kind == NodeKindExtensionGroup {
			loc := Location{AppURI: appURI, GraphID: e.GraphID, GroupName: n.Name}
			groupInfos[loc.String()] = &ExtensionGroupInfo{Loc: loc, Addon: n.Addon}
			continue
		}
		loc := Location{AppURI: appURI, GraphID: e.GraphID, GroupName: n.ExtensionGroup, ExtensionName: n.Name}
		info := &ExtensionInfo{
			Loc:      loc,
			Addon:    n.Addon,
			Property: n.Property,
			Dests:    destsByLoc[loc.String()],
		}
		extInfos[n.Name] = info
		if appURI == e.App.URI {
			byGroup[n.ExtensionGroup] = append(byGroup[n.ExtensionGroup], info)
		}
	}
	return extInfos, groupInfos, byGroup
}

// routeOutbound is the single decision point every outbound message passes
// through (spec.md §4.4): a different app goes to a remote; a different
// graph_id within the same app is handed back to the App to find the
// sibling engine; an engine-targeted command (no group) is handled here;
// anything else is delivered to its extension group, synthesising an
// INVALID_DEST cmd_result if that group doesn't exist.
func (e *Engine) routeOutbound(msg *Message) {
	if len(msg.Dest) == 0 {
		return
	}
	if msg.Type == MsgTypeCmdResult && e.deliverEngineResult(msg) {
		return
	}
	dest := msg.Dest[0]
	localURI := e.App.URI
	isLocalApp := dest.AppURI == "" || dest.AppURI == LocalhostURI || dest.AppURI == localURI
	if !isLocalApp {
		e.sendRemote(dest.AppURI, msg)
		return
	}
	if dest.GraphID != "" && dest.GraphID != e.GraphID {
		if e.App.RouteToGraph(dest.GraphID, msg) {
			return
		}
		e.replyGraphNotFound(msg, dest.GraphID)
		return
	}
	if dest.GroupName == "" {
		if dest.ExtensionName != "" {
			if group, ok := e.extContext.GroupForExtension(dest.ExtensionName); ok {
				e.extContext.DeliverToGroup(group, msg)
				return
			}
		}
		e.handleEngineCmd(msg)
		return
	}
	if e.extContext.DeliverToGroup(dest.GroupName, msg) {
		return
	}
	if group, ok := e.extContext.GroupForExtension(dest.ExtensionName); ok {
		e.extContext.DeliverToGroup(group, msg)
		return
	}
	e.replyInvalidDest(msg, dest)
}

// handleEngineCmd answers a command addressed to this engine itself rather
// than to any extension group (spec.md §4.4's "dest.group empty" branch):
// currently only a peer re-announcing a start_graph for a graph this engine
// already owns, confirming the shared graph_id back to the caller.
func (e *Engine) handleEngineCmd(msg *Message) {
	if msg.Type != MsgTypeCmd {
		return
	}
	switch msg.Name {
	case CmdStartGraph:
		result := NewCmdResult(msg.Name, msg.CmdID, StatusOK)
		result.Props.Set("detail", NewString(e.GraphID))
		result.Dest = []Location{msg.Src}
		e.routeOutbound(result)
	default:
		result := NewCmdResult(msg.Name, msg.CmdID, StatusError)
		result.Props.Set("detail", NewString(fmt.Sprintf("engine does not handle command %q", msg.Name)))
		result.Dest = []Location{msg.Src}
		e.routeOutbound(result)
	}
}

// replyGraphNotFound answers a command whose destination named a graph_id
// this app isn't running (spec.md §4.4: the App couldn't find a sibling
// engine to hand the message to).
func (e *Engine) replyGraphNotFound(msg *Message, graphID string) {
	if msg.Type != MsgTypeCmd {
		return
	}
	result := NewCmdResult(msg.Name, msg.CmdID, StatusError)
	result.Props.Set("detail", NewString(fmt.Sprintf("no graph %q running in this app", graphID)))
	result.Dest = []Location{msg.Src}
	e.routeOutbound(result)
}

// replyInvalidDest answers a command addressed to an extension_group that
// doesn't exist in this graph (spec.md §4.4's final INVALID_DEST branch).
func (e *Engine) replyInvalidDest(msg *Message, dest Location) {
	if msg.Type != MsgTypeCmd {
		return
	}
	result := NewCmdResult(msg.Name, msg.CmdID, StatusError)
	result.Props.Set("detail", NewString(fmt.Sprintf("The extension_group[%s] is invalid.", dest.GroupName)))
	result.Dest = []Location{msg.Src}
	e.routeOutbound(result)
}

func (e *Engine) sendRemote(appURI string, msg *Message) {
	e.mu.Lock()
	r, ok := e.remotes[appURI]
	if !ok {
		r, ok = e.weakRemotes[appURI]
	}
	e.mu.Unlock()
	if !ok {
		e.onOutPathExpired(&OutPathEntry{CmdID: msg.CmdID, Name: msg.Name})
		return
	}
	r.Send(msg)
}

// deliverEngineResult handles a cmd_result addressed to the engine itself
// (e.g. PostExternalCmd's synthetic caller, or a start_graph cross-app
// fan-out settling). Reports whether an out-path claimed this result.
func (e *Engine) deliverEngineResult(result *Message) bool {
	outcome, ok := e.PathTable.TakeOutPathForResult(result)
	if !ok {
		return false
	}
	if !outcome.GroupDone && outcome.Entry.GroupID != "" {
		return true
	}
	if outcome.Entry.Span != nil {
		EndDispatchSpan(outcome.Entry.Span, result, nil)
	}
	if outcome.Entry.Callback != nil {
		if outcome.GroupReply != nil {
			outcome.Entry.Callback(outcome.GroupReply)
		} else {
			outcome.Entry.Callback(result)
		}
	}
	return true
}

// PostExternalCmd injects cmd as if sent by a client outside the graph
// (spec.md §6 "embedded caller posting tasks on the App runloop"),
// addressing it to the named extension and registering an engine-level
// out-path so cb fires once the result settles.
func (e *Engine) PostExternalCmd(destExtensionName string, cmd *Message, cb func(result *Message, err error)) error {
	group, ok := e.extContext.GroupForExtension(destExtensionName)
	if !ok {
		return NewError(KindNotFound, "no extension named %q in graph %q", destExtensionName, e.GraphID)
	}
	cmd.EnsureCmdID()
	cmd.Dest = []Location{{AppURI: e.App.URI, GraphID: e.GraphID, GroupName: group, ExtensionName: destExtensionName}}
	cmd.SetSrcTo(Location{AppURI: e.App.URI})

	_, span := StartDispatchSpan(context.Background(), cmd)
	entry := &OutPathEntry{
		CmdID:  cmd.CmdID,
		Name:   cmd.Name,
		Dest:   cmd.Dest[0],
		Sent:   time.Now(),
		Expiry: time.Now().Add(30 * time.Second),
		Span:   span,
	}
	if cb != nil {
		entry.Callback = func(result *Message) { cb(result, nil) }
	}
	e.PathTable.AddOutPath(entry)

	if !e.extContext.DeliverToGroup(group, cmd) {
		e.PathTable.TakeOutPathForResult(&Message{CmdID: cmd.CmdID})
		return NewError(KindNotFound, "extension group %q not running", group)
	}
	return nil
}

// RegisterRemote attaches a connected remote for appURI and returns the
// remote that should actually be used going forward. Strong registrations
// (explicit graph membership) replace weak ones. Two weak registrations for
// the same appURI mean both apps dialed each other at once; PreferLocal
// breaks the tie so only one connection survives (spec.md §4.6). The losing
// side's connection is closed.
func (e *Engine) RegisterRemote(appURI string, r *Remote, weak bool) *Remote {
	e.mu.Lock()
	var loser *Remote
	winner := r
	reconnected := false

	switch existing := e.remotes[appURI]; {
	case existing == r:
		// already the registered strong remote; nothing to do
	case existing != nil:
		if weak {
			loser = r
			winner = existing
		} else {
			loser = existing
			e.remotes[appURI] = r
			delete(e.weakRemotes, appURI)
			reconnected = true
		}
	case weak:
		if w, ok := e.weakRemotes[appURI]; ok && w != r {
			if PreferLocal(e.App.URI, appURI) {
				loser, winner = w, r
				e.weakRemotes[appURI] = r
			} else {
				loser, winner = r, w
			}
		} else {
			e.weakRemotes[appURI] = r
		}
	default:
		delete(e.weakRemotes, appURI)
		e.remotes[appURI] = r
	}
	e.mu.Unlock()

	if loser != nil {
		loser.close()
	}
	if reconnected {
		e.App.Metrics.IncRemoteReconnect(e.App.URI, appURI)
		e.App.Emitter.Emit(emit.Event{
			AppURI:  e.App.URI,
			GraphID: e.GraphID,
			Msg:     "remote reconnected",
			Meta:    map[string]interface{}{"remote_uri": appURI},
		})
	}
	return winner
}

// StopGraph implements spec.md §4.8: cancel every outstanding command with
// a synthetic ERROR result, then drive every extension through
// ON_STOP/ON_DEINIT.
func (e *Engine) StopGraph(onDone func()) {
	e.mu.Lock()
	e.state = EngineStateStopping
	e.mu.Unlock()
	e.App.Emitter.Emit(emit.Event{AppURI: e.App.URI, GraphID: e.GraphID, Msg: "graph stopping"})

	outstanding := e.PathTable.CancelAll("stopped")
	for _, entry := range outstanding {
		if entry.Span != nil {
			EndDispatchSpan(entry.Span, nil, NewError(KindGeneric, "graph stopped with command %q outstanding", entry.CmdID))
		}
		if entry.Callback != nil {
			result := NewCmdResult(entry.Name, entry.CmdID, StatusError)
			result.Props.Set("detail", NewString("stopped"))
			entry.Callback(result)
		}
	}

	e.extContext.BeginStop(func() {
		e.mu.Lock()
		e.state = EngineStateClosed
		e.loop.Stop()
		e.mu.Unlock()
		if onDone != nil {
			onDone()
		}
	})
}

// IsClosing reports whether the engine has begun (or finished) shutting
// down.
func (e *Engine) IsClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == EngineStateStopping || e.state == EngineStateClosed
}

// LongRunningMode reports the graph's declared mode, overridden at the App
// level by an explicit close_app (spec.md §9 open-question decision:
// close_app always wins over long_running_mode).
func (e *Engine) LongRunningMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.longRunningMode
}

// expirySweepInterval is how often the engine timer checks for commands
// that have outlived their TTL without a result (spec.md §4.3).
const expirySweepInterval = 5 * time.Second

// startExpirySweep arms the recurring timer that reaps timed-out
// out-paths. Safe to call once per engine lifetime.
func (e *Engine) startExpirySweep() {
	var tick func()
	tick = func() {
		if e.IsClosing() {
			return
		}
		for _, entry := range e.PathTable.ExpireOlderThan(time.Now()) {
			e.App.Metrics.IncPathExpiry(e.App.URI, e.GraphID)
			e.App.Emitter.Emit(emit.Event{
				AppURI:  e.App.URI,
				GraphID: e.GraphID,
				Msg:     "command out-path expired",
				Meta:    map[string]interface{}{"cmd_name": entry.Name, "cmd_id": entry.CmdID},
			})
			e.onOutPathExpired(entry)
		}
		e.App.Metrics.SetInflightCommands(e.App.URI, e.GraphID, e.PathTable.Len())
		e.loop.AfterFunc(expirySweepInterval, tick)
	}
	e.loop.AfterFunc(expirySweepInterval, tick)
}
