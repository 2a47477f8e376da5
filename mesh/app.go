package mesh

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaymesh/meshrt/mesh/emit"
	"github.com/relaymesh/meshrt/mesh/transport"
)

// AppState is the top-level process lifecycle state (spec.md §3).
type AppState int

const (
	AppStateInit AppState = iota
	AppStateOnConfigure
	AppStateOnConfigureDone
	AppStateOnInit
	AppStateOnInitDone
	AppStateClosing
	AppStateOnDeinitDone
)

// PredefinedGraphInfo is one manifest-declared graph the app can start by
// name without the caller supplying the full declaration (spec.md §4.7).
type PredefinedGraphInfo struct {
	Name          string
	Decl          *GraphDecl
	AutoStart     bool
}

// App is the top-level runtime: one process, one URI, any number of
// concurrently running graphs (Engines), and the four addon registries
// every Engine's extensions are created from (spec.md §2, §3).
type App struct {
	URI string

	loop     *Runloop
	Registry *Registry
	Log      *zap.Logger
	Metrics  *Metrics
	Emitter  emit.Emitter

	// DialAddon names the Registry.Protocols addon engines use to dial other
	// apps when a graph mentions them (spec.md §4.6). Empty means this app
	// can accept cross-app connections but never initiate one.
	DialAddon string

	mu               sync.Mutex
	state            AppState
	engines          map[string]*Engine // by graph id
	predefinedGraphs map[string]*PredefinedGraphInfo
	orphanRemotes    map[string]*Remote // connected but not yet claimed by any engine

	closeRequested bool
}

// AppOption configures an App at construction time (functional-options
// pattern).
type AppOption func(*App)

// WithLogger overrides the app's zap logger (default: a no-op logger).
func WithLogger(l *zap.Logger) AppOption {
	return func(a *App) { a.Log = l }
}

// WithMetrics attaches a Prometheus metrics sink; see NewMetrics.
func WithMetrics(m *Metrics) AppOption {
	return func(a *App) { a.Metrics = m }
}

// WithEmitter overrides the app's event emitter (default: a LogEmitter over
// the app's own zap logger, so observability works out of the box even when
// the caller hasn't configured anything).
func WithEmitter(e emit.Emitter) AppOption {
	return func(a *App) { a.Emitter = e }
}

// WithDialAddon configures the Registry.Protocols addon engines use to dial
// other apps mentioned by a graph (spec.md §4.6).
func WithDialAddon(name string) AppOption {
	return func(a *App) { a.DialAddon = name }
}

// WithPredefinedGraph registers a named graph the app can start without
// the caller supplying the declaration inline.
func WithPredefinedGraph(name string, decl *GraphDecl, autoStart bool) AppOption {
	return func(a *App) {
		a.predefinedGraphs[name] = &PredefinedGraphInfo{Name: name, Decl: decl, AutoStart: autoStart}
	}
}

// NewApp constructs an App at uri with its own runloop, not yet started.
func NewApp(uri string, opts ...AppOption) *App {
	a := &App{
		URI:              uri,
		loop:             NewRunloop(),
		Registry:         NewRegistry(),
		Log:              zap.NewNop(),
		engines:          map[string]*Engine{},
		predefinedGraphs: map[string]*PredefinedGraphInfo{},
		orphanRemotes:    map[string]*Remote{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.Emitter == nil {
		a.Emitter = emit.NewLogEmitter(a.Log)
	}
	return a
}

// Run starts the app's runloop on the calling goroutine; it blocks until
// Close is called and the loop drains. Embedding callers that want to keep
// control of their own goroutine should instead call Loop() and drive it
// themselves, matching spec.md's "App is an embeddable library, not a
// process framework."
func (a *App) Run() {
	a.autoStartGraphs()
	a.loop.Run()
}

// Loop exposes the app's Runloop so an embedding caller can post its own
// tasks onto it (spec.md §6 "embedded caller posting tasks on the App
// runloop").
func (a *App) Loop() *Runloop { return a.loop }

func (a *App) autoStartGraphs() {
	a.mu.Lock()
	var toStart []*PredefinedGraphInfo
	for _, g := range a.predefinedGraphs {
		if g.AutoStart {
			toStart = append(toStart, g)
		}
	}
	a.mu.Unlock()
	for _, g := range toStart {
		if _, err := a.StartGraph(g.Decl); err != nil {
			a.Log.Error("auto-start graph failed", zap.String("graph", g.Name), zap.Error(err))
		}
	}
}

// StartPredefinedGraph starts a manifest-declared graph by name.
func (a *App) StartPredefinedGraph(name string) (*Engine, error) {
	a.mu.Lock()
	g, ok := a.predefinedGraphs[name]
	a.mu.Unlock()
	if !ok {
		return nil, NewError(KindNotFound, "no predefined graph named %q", name)
	}
	return a.StartGraph(g.Decl)
}

// StartGraph creates a new Engine for decl, under a freshly generated graph
// id, and starts it (spec.md §4.7).
func (a *App) StartGraph(decl *GraphDecl) (*Engine, error) {
	return a.StartGraphWithID(uuid.NewString(), decl)
}

// StartGraphWithID starts decl under an explicit graph id instead of a
// freshly generated one. Ordinary callers should use StartGraph; this
// exists for the case spec.md §4.6's duplicate-connection tie-break
// describes, where two apps must agree on a graph's identity before either
// dials the other.
func (a *App) StartGraphWithID(graphID string, decl *GraphDecl) (*Engine, error) {
	eng := newEngineWithGraphID(a, graphID)
	eng.startExpirySweep()
	a.mu.Lock()
	a.engines[eng.GraphID] = eng
	a.mu.Unlock()

	if err := eng.StartGraph(decl, nil); err != nil {
		a.mu.Lock()
		delete(a.engines, eng.GraphID)
		a.mu.Unlock()
		return nil, err
	}
	return eng, nil
}

// RouteToGraph hands msg to the engine owning graphID, if this app is
// running it (spec.md §4.4: a message whose destination names a different
// graph_id within the same app is handed back to the App for re-dispatch to
// the sibling engine, rather than mistaken for a cross-app message).
// Reports whether a matching engine was found.
func (a *App) RouteToGraph(graphID string, msg *Message) bool {
	a.mu.Lock()
	eng, ok := a.engines[graphID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	eng.routeOutbound(msg)
	return true
}

// AcceptRemote wraps an inbound connection from peerURI as a Remote not yet
// bound to any engine and starts its receive loop (spec.md §4.6: the other
// side dialed in before any local engine claims the connection by name).
func (a *App) AcceptRemote(peerURI string, proto transport.Protocol) *Remote {
	r := NewAppRemote(peerURI, a, proto, a.Log)
	a.RegisterOrphanRemote(r)
	go r.Run(context.Background())
	return r
}

// routeInbound dispatches a message that arrived on a not-yet-claimed
// Remote: a start_graph is handled at the App level (spec.md §4.7
// App.on_start_graph); anything else is routed to whichever engine already
// owns its destination graph_id.
func (a *App) routeInbound(msg *Message) {
	if len(msg.Dest) == 0 {
		return
	}
	dest := msg.Dest[0]
	if msg.Type == MsgTypeCmd && msg.Name == CmdStartGraph {
		a.handleInboundStartGraph(msg)
		return
	}
	a.RouteToGraph(dest.GraphID, msg)
}

// handleInboundStartGraph implements spec.md §4.7's App.on_start_graph: join
// (or, failing that, create) the engine named by the command's graph_id and
// ask it to start the propagated declaration, answering the remote side
// once it settles.
func (a *App) handleInboundStartGraph(cmd *Message) {
	dest, ok := cmd.SoleDest()
	if !ok {
		return
	}
	graphID := dest.GraphID
	if graphID == "" {
		graphID = uuid.NewString()
	}

	a.mu.Lock()
	eng, existed := a.engines[graphID]
	a.mu.Unlock()

	decl, err := GraphDeclFromValue(cmd.Props)
	if err != nil {
		a.Emitter.Emit(emit.Event{AppURI: a.URI, GraphID: graphID, Msg: "start_graph decode failed", Meta: map[string]interface{}{"error": err.Error()}})
		return
	}

	if !existed {
		eng = newEngineWithGraphID(a, graphID)
		eng.startExpirySweep()
		a.mu.Lock()
		a.engines[graphID] = eng
		a.mu.Unlock()
	}

	// The connection this start_graph arrived on is still registered as an
	// App-level orphan (spec.md §4.6); claim it onto the engine that now
	// owns this graph so the graph's reply, and anything routed back to the
	// caller's app later, has somewhere to go.
	if cmd.Src.AppURI != "" {
		if r, ok := a.ClaimOrphanRemote(cmd.Src.AppURI); ok {
			eng.RegisterRemote(cmd.Src.AppURI, r, true)
		}
	}

	if err := eng.StartGraph(decl, cmd); err != nil && !existed {
		a.mu.Lock()
		delete(a.engines, graphID)
		a.mu.Unlock()
	}
}

// StopGraph stops and removes the engine owning graphID.
func (a *App) StopGraph(graphID string, onDone func()) error {
	a.mu.Lock()
	eng, ok := a.engines[graphID]
	a.mu.Unlock()
	if !ok {
		return NewError(KindNotFound, "no running graph %q", graphID)
	}
	eng.StopGraph(func() {
		a.mu.Lock()
		delete(a.engines, graphID)
		closeNow := a.closeRequested && len(a.engines) == 0
		a.mu.Unlock()
		if onDone != nil {
			onDone()
		}
		if closeNow {
			a.loop.Stop()
		}
	})
	return nil
}

// Engine looks up a running engine by graph id.
func (a *App) Engine(graphID string) (*Engine, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.engines[graphID]
	return e, ok
}

// Engines returns every currently running engine.
func (a *App) Engines() []*Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Engine, 0, len(a.engines))
	for _, e := range a.engines {
		out = append(out, e)
	}
	return out
}

// Close implements CmdCloseApp: close_app always overrides every running
// graph's long_running_mode (spec.md §9 open-question decision). Every
// engine is stopped; once the last one finishes, the app's runloop stops.
func (a *App) Close() {
	a.mu.Lock()
	a.closeRequested = true
	a.state = AppStateClosing
	engines := make([]*Engine, 0, len(a.engines))
	for _, e := range a.engines {
		engines = append(engines, e)
	}
	noEngines := len(engines) == 0
	a.mu.Unlock()

	if noEngines {
		a.loop.Stop()
		return
	}
	for _, e := range engines {
		_ = a.StopGraph(e.GraphID, nil)
	}
}

// RegisterOrphanRemote records a connected Remote not yet claimed by any
// engine (e.g. the other side dialed in before declaring which graph it
// wants to join).
func (a *App) RegisterOrphanRemote(r *Remote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orphanRemotes[r.URI] = r
}

// ClaimOrphanRemote removes and returns an orphaned remote for uri, if one
// is waiting.
func (a *App) ClaimOrphanRemote(uri string) (*Remote, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.orphanRemotes[uri]
	if ok {
		delete(a.orphanRemotes, uri)
	}
	return r, ok
}
