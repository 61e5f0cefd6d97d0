package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"noteot/internal/protocol"
	"noteot/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const outboundBuffer = 64

// wsConnection adapts a gorilla websocket.Conn to room.Connection. Sends
// are buffered; a slow reader has frames dropped rather than blocking
// the room actor, per spec.md §5.
type wsConnection struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan protocol.Frame
}

func newWSConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{id: uuid.New(), conn: conn, send: make(chan protocol.Frame, outboundBuffer)}
}

func (c *wsConnection) ID() uuid.UUID { return c.id }

func (c *wsConnection) Send(frame protocol.Frame) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("transport: dropping frame to slow connection", "connection", c.id, "type", frame.Type)
	}
}

func (c *wsConnection) writePump() {
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			slog.Error("transport: write failed", "connection", c.id, "err", err)
			return
		}
	}
}

// handleWebSocket upgrades the connection, joins the room, and pumps
// frames in both directions until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("transport: websocket upgrade failed", "note", noteID, "err", err)
		return
	}
	defer raw.Close()

	conn := newWSConnection(raw)
	go conn.writePump()
	defer close(conn.send)

	// Join registers presence and lets this connection receive broadcast
	// updates; the client fetches its initial hash/content over
	// GET /api/note/{id} before dialing, per spec.md §6. Registry.Join
	// retries against a fresh room if the looked-up one raced closed
	// (GET-created, released empty) before this join landed.
	rm, _, _ := s.registry.Join(noteID, conn)
	defer func() {
		rm.Leave(conn)
		s.registry.ReleaseIfEmpty(noteID)
	}()

	for {
		var frame protocol.Frame
		if err := raw.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("transport: unexpected close", "note", noteID, "connection", conn.id, "err", err)
			}
			return
		}
		s.dispatch(rm, conn, frame)
	}
}

func (s *Server) dispatch(rm *room.Room, conn *wsConnection, frame protocol.Frame) {
	// Non-sync message types are silently ignored per spec.md §7.
	if frame.Type != protocol.TypeSync {
		return
	}

	var payload protocol.SyncPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		slog.Warn("transport: malformed sync payload, dropping", "err", err)
		return
	}

	ops, err := protocol.FromWireList(payload.Operations)
	if err != nil {
		slog.Warn("transport: malformed operation in sync payload, dropping", "err", err)
		return
	}

	rm.Sync(conn, payload.BaseHash, ops)
}
