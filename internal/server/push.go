package server

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"wevote/internal/api"
	"wevote/internal/wshub"
)

// handlePush upgrades to the room's push channel. The server only writes;
// inbound frames are discarded.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	code := normalizeCode(r.PathValue("roomId"))
	room := s.Rooms.Get(code)
	if room == nil {
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "room not found"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.corsOrigins),
	})
	if err != nil {
		log.Warn().Err(err).Str("room_id", code).Msg("websocket accept failed")
		return
	}

	client := &wshub.Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 16),
	}
	if err := room.Hub.Register(client); err != nil {
		// The room expired between the lookup and the upgrade.
		log.Debug().Err(err).Str("room_id", code).Msg("push channel refused")
		conn.Close(websocket.StatusGoingAway, "room closed")
		return
	}
	defer room.Hub.Unregister(client.ID)

	log.Debug().Str("room_id", code).Str("client_id", client.ID).Msg("push channel opened")

	ctx := conn.CloseRead(r.Context())
	client.WritePump(ctx)

	conn.Close(websocket.StatusNormalClosure, "")
	log.Debug().Str("room_id", code).Str("client_id", client.ID).Msg("push channel closed")
}
