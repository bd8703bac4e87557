package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srvURL, clientID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srvURL, "http") + "?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHandlerReconnectKeepsReplacementAlive(t *testing.T) {
	m := newTestManager(nil)
	srv := httptest.NewServer(NewHandler(m, zerolog.Nop()))
	defer srv.Close()

	first := dialWS(t, srv.URL, "C1")
	defer first.Close()
	ack := readFrame(t, first)
	assert.Equal(t, FrameConnectionAck, ack.Type)
	assert.Equal(t, "C1", ack.ClientID)

	// Reconnect under the same client_id. The first connection must be told
	// to go away with a normal closure.
	second := dialWS(t, srv.URL, "C1")
	defer second.Close()
	assert.Equal(t, FrameConnectionAck, readFrame(t, second).Type)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard ServerFrame
	err := first.ReadJSON(&discard)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// The first connection's server-side read loop has now died; give its
	// teardown a moment, then prove the replacement is still live.
	require.Eventually(t, func() bool { return m.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, second.WriteJSON(ClientFrame{Type: FramePing}))
	assert.Equal(t, FramePong, readFrame(t, second).Type)
	assert.Equal(t, 1, m.SessionCount())
}
