package notify

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades authenticated requests to websockets and subscribes them
// to the user's room.
type Handler struct {
	hub      *Hub
	verifier *TokenVerifier
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewHandler creates a websocket handler.
func NewHandler(hub *Hub, verifier *TokenVerifier, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "notify_ws"),
	}
}

// ServeHTTP authenticates, upgrades and blocks until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.Verify(tokenFromRequest(r))
	if err != nil {
		h.logger.Debugw("rejected websocket connection", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	log := h.logger.With("user_id", userID)
	client := NewClient(conn, log)
	h.hub.Register(userID, client)
	log.Debugw("websocket connected")

	go client.writePump()
	client.readLoop()

	h.hub.Unregister(userID, client)
	client.Close()
	log.Debugw("websocket disconnected")
}
