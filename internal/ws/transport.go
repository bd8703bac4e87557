package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes surfaced by the manager.
const (
	CloseNormal      = websocket.CloseNormalClosure
	ClosePolicy      = websocket.ClosePolicyViolation
	CloseServerError = websocket.CloseInternalServerErr
)

// Transport is the session's write side. The read loop lives in the HTTP
// handler, which feeds frames into the manager.
type Transport interface {
	WriteJSON(v any, deadline time.Time) error
	Close(code int, reason string) error
}

// wsTransport wraps a gorilla connection with a write mutex; gorilla permits
// only one concurrent writer.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewTransport adapts an upgraded connection.
func NewTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteJSON(v any, deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	t.conn.SetWriteDeadline(deadline)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return t.conn.Close()
}
