package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// handleStream upgrades to a websocket and relays the room's live
// message channel. The subscription confirmation surfaces as a bare
// "OK" frame, then every logged message follows verbatim in wire form.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if !s.roomVisible(room) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	// Subscribe before upgrading so a broker failure still gets a plain
	// HTTP status.
	sub := s.client.RDB.Subscribe(r.Context(), s.client.Keys.RoomChannel(room))
	defer sub.Close()
	if _, err := sub.Receive(r.Context()); err != nil {
		slog.Error("web: stream subscribe", "room", room, "error", err)
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("web: stream upgrade", "room", room, "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("OK")); err != nil {
		return
	}

	// Reads only serve to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	in := sub.Channel()
	for {
		select {
		case <-gone:
			return
		case rm, ok := <-in:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(rm.Payload)); err != nil {
				return
			}
		}
	}
}
