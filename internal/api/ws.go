package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/greenloop/pickup-coordinator/internal/push"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin; auth belongs to the gateway
	// in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler attaches a client connection to the push hub. The read loop
// exists only to detect disconnects; clients never send anything we
// act on.
func wsHandler(hub *push.Hub, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id query parameter must be a valid UUID")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		hub.Register(userID, conn)

		go func() {
			defer func() {
				hub.Unregister(userID, conn)
				_ = conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
