package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// wsSender adapts a gorilla connection to the hub's sender. The write
// mutex is required: gorilla connections are not concurrent-write safe.
type wsSender struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsSender) Send(ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(ev)
}

func (s *wsSender) Close() error {
	return s.conn.Close()
}

// handleRealtime upgrades the request and parks the connection in the
// session's broadcast group until the client goes away. A disconnect
// cancels only this receive loop; in-flight git or archive operations run
// to completion independently.
func (s *server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	id, err := resolveIdentity(s.cfg.SessionsRoot,
		r.URL.Query().Get("secret_key"), r.URL.Query().Get("project_name"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	snd := &wsSender{conn: conn}
	hc := s.hub.Register(id.SessionID, snd)
	defer func() {
		s.hub.Unregister(hc)
		conn.Close()
	}()

	s.watchers.Ensure(id.SessionID, id.Workspace)

	// Greet this connection only; the rest of the group doesn't care.
	if err := snd.Send(Event{Type: "status", Payload: "connected"}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Connection %s closed: %v", hc.id[:8], err)
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[WS] Invalid JSON message: %v", err)
			continue
		}
		switch msg.Type {
		case "ping":
			if err := snd.Send(Event{Type: "pong"}); err != nil {
				return
			}
		default:
			// The channel is server-to-client status; other client
			// payloads are ignored.
		}
	}
}
