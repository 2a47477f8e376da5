// Package transport supplies the wire connections mesh.Remote rides on. A
// Protocol only moves opaque frames; mesh owns the codec that turns those
// frames into routed messages.
package transport

import "context"

// Protocol is a single bidirectional framed connection to a remote app.
// Implementations: Loopback (in-process, for tests and single-binary
// multi-app demos) and WS (gorilla/websocket).
type Protocol interface {
	// Send writes one frame. Safe for concurrent use with Recv, not with
	// itself (callers should serialize their own Sends).
	Send(ctx context.Context, frame []byte) error

	// Recv blocks until the next frame arrives, ctx is cancelled, or the
	// connection closes or fails (Loopback then returns io.EOF; WS returns
	// the underlying read error).
	Recv(ctx context.Context) ([]byte, error)

	// Close tears down the underlying connection.
	Close() error

	// RemoteAddr identifies the peer, for logging/metrics.
	RemoteAddr() string
}
