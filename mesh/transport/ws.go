package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Deadline/keepalive tuning mirrors the conventions of a long-lived
// streaming websocket connection: bounded write deadline, pong-driven read
// deadline extension, and a ping cadence comfortably inside the pong
// timeout.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // 8 MiB; generous for a batched cmd/data frame
)

// WS is a Protocol backed by a gorilla/websocket connection. Frames are
// sent/received as individual binary websocket messages — mesh's own codec
// decides what's inside each one.
type WS struct {
	conn *websocket.Conn
	addr string

	recvCh chan []byte
	errCh  chan error
	done   chan struct{}

	pinger *time.Ticker
}

// NewWS wraps an already-established *websocket.Conn and starts its
// keepalive ping loop and background reader.
func NewWS(conn *websocket.Conn, remoteAddr string) *WS {
	w := &WS{
		conn:   conn,
		addr:   remoteAddr,
		recvCh: make(chan []byte, 32),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go w.readLoop()
	go w.pingLoop()
	return w
}

func (w *WS) readLoop() {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case w.errCh <- err:
			default:
			}
			close(w.done)
			return
		}
		w.recvCh <- data
	}
}

func (w *WS) pingLoop() {
	w.pinger = time.NewTicker(pingPeriod)
	defer w.pinger.Stop()
	for {
		select {
		case <-w.pinger.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *WS) Send(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (w *WS) Recv(ctx context.Context) ([]byte, error) {
	select {
	case f := <-w.recvCh:
		return f, nil
	case err := <-w.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *WS) Close() error {
	return w.conn.Close()
}

func (w *WS) RemoteAddr() string { return w.addr }
