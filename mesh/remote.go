package mesh

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/relaymesh/meshrt/mesh/transport"
)

// RemoteState is a cross-app connection's lifecycle state (spec.md §4.6).
type RemoteState int

const (
	RemoteStateConnecting RemoteState = iota
	RemoteStateConnected
	RemoteStateClosing
	RemoteStateClosed
)

// Remote is one connection to another App, wrapping a transport.Protocol
// and the codec that turns frames into Messages (spec.md §2, §4.6). Every
// decoded inbound message is handed to dispatch, which is either an
// Engine's own routeOutbound (once the remote is bound to a specific graph)
// or the owning App's routeInbound (while the connection is still an
// orphan, waiting to be claimed by whichever engine's start_graph names it).
type Remote struct {
	URI      string
	dispatch func(*Message)
	proto    transport.Protocol
	codec    Codec
	log      *zap.Logger

	mu    sync.Mutex
	state RemoteState

	onClosed func(r *Remote)
}

func newRemote(uri string, dispatch func(*Message), proto transport.Protocol, log *zap.Logger) *Remote {
	if log == nil {
		log = zap.NewNop()
	}
	return &Remote{URI: uri, dispatch: dispatch, proto: proto, codec: JSONCodec{}, log: log, state: RemoteStateConnecting}
}

// NewRemote wraps proto as a connection to the app at uri, owned by engine.
// engine may be nil (tests that never call Run); once bound, every inbound
// message routes through engine.routeOutbound.
func NewRemote(uri string, engine *Engine, proto transport.Protocol, log *zap.Logger) *Remote {
	var dispatch func(*Message)
	if engine != nil {
		dispatch = engine.routeOutbound
	}
	return newRemote(uri, dispatch, proto, log)
}

// NewAppRemote wraps proto as a connection to the app at uri that has not
// yet been claimed by any engine (spec.md §4.6: the other side dialed in
// before any graph is known to exist locally). Inbound messages route
// through the App, which hands a start_graph to App.handleInboundStartGraph
// and everything else to whichever engine already owns its graph_id.
func NewAppRemote(uri string, app *App, proto transport.Protocol, log *zap.Logger) *Remote {
	return newRemote(uri, app.routeInbound, proto, log)
}

// Run starts the remote's receive loop; blocks until the connection closes
// or ctx is cancelled. Intended to be run on its own goroutine.
func (r *Remote) Run(ctx context.Context) {
	r.mu.Lock()
	r.state = RemoteStateConnected
	r.mu.Unlock()

	for {
		frame, err := r.proto.Recv(ctx)
		if err != nil {
			r.close()
			return
		}
		msg, err := r.codec.Decode(frame)
		if err != nil {
			r.log.Warn("dropping undecodable frame", zap.String("remote", r.URI), zap.Error(err))
			continue
		}
		if r.dispatch != nil {
			r.dispatch(msg)
		}
	}
}

// Send encodes and writes msg to the peer.
func (r *Remote) Send(msg *Message) error {
	frame, err := r.codec.Encode(msg)
	if err != nil {
		r.log.Warn("dropping unencodable outbound message", zap.String("remote", r.URI), zap.Error(err))
		return err
	}
	if err := r.proto.Send(context.Background(), frame); err != nil {
		r.log.Warn("remote send failed", zap.String("remote", r.URI), zap.Error(err))
		return err
	}
	return nil
}

func (r *Remote) close() {
	r.mu.Lock()
	r.state = RemoteStateClosed
	cb := r.onClosed
	r.mu.Unlock()
	_ = r.proto.Close()
	if cb != nil {
		cb(r)
	}
}

// State reports the remote's current connection state.
func (r *Remote) State() RemoteState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PreferLocal implements spec.md §4.6's duplicate-connection tie-break:
// when two apps independently dial each other at once, the connection
// whose local URI sorts lexicographically smaller wins; the other side's
// duplicate is dropped.
func PreferLocal(localURI, remoteURI string) bool {
	return strings.Compare(localURI, remoteURI) < 0
}
