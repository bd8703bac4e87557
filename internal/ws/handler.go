package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler upgrades HTTP requests and pumps inbound frames into the manager.
type Handler struct {
	mgr      *Manager
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler builds the /ws endpoint.
func NewHandler(mgr *Manager, log zerolog.Logger) *Handler {
	return &Handler{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the ingress collaborator.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	userID := r.URL.Query().Get("user_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	// The heartbeat task must outlive the request context, which dies with
	// the hijacked connection's handler.
	s, err := h.mgr.Connect(context.Background(), clientID, userID, NewTransport(conn))
	if err != nil {
		h.log.Warn().Err(err).Str("client_id", clientID).Msg("connect failed")
		conn.Close()
		return
	}

	h.readLoop(conn, s)
}

// readLoop decodes inbound frames until the transport dies. Every frame
// refreshes the idle deadline. Teardown targets the session this loop owns:
// when a reconnect has already replaced it, the manager ignores the call and
// the replacement stays up.
func (h *Handler) readLoop(conn *websocket.Conn, s *Session) {
	for {
		conn.SetReadDeadline(time.Now().Add(h.mgr.idleLimit))
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			h.mgr.DisconnectSession(s)
			return
		}
		h.mgr.HandleFrame(s, frame)
	}
}
