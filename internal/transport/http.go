// Package transport wires the HTTP and WebSocket surface described in
// spec.md §6 onto internal/room's merge protocol. It owns no OT state of
// its own: every request is a thin JSON<->room.Room translation.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"noteot/internal/room"
)

// Server bundles the HTTP router and room registry.
type Server struct {
	registry *room.Registry
	router   *mux.Router
}

// NewServer builds the HTTP router: GET /api/note/{id}, OPTIONS CORS
// preflight, /ws/note/{id} websocket upgrade, 404 elsewhere.
func NewServer(registry *room.Registry) *Server {
	s := &Server{registry: registry, router: mux.NewRouter()}

	s.router.Use(accessLogMiddleware)
	s.router.NotFoundHandler = http.HandlerFunc(notFound)

	s.router.HandleFunc("/api/note/{id}", s.handleGetNote).Methods(http.MethodGet)
	s.router.HandleFunc("/api/note/{id}", handleOptions).Methods(http.MethodOptions)
	s.router.HandleFunc("/ws/note/{id}", s.handleWebSocket).Methods(http.MethodGet)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("handled", "method", r.Method, "url", r.URL.String(), "duration", m.Duration, "status", m.Code)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func handleOptions(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

type noteResponse struct {
	Status        string  `json:"status"`
	LatestHash    *string `json:"latest_hash"`
	LatestContent *string `json:"latest_content"`
}

// handleGetNote creates the room (if this is the first reference) and
// returns its current head hash and content.
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	id := mux.Vars(r)["id"]

	rm := s.registry.GetOrCreate(id)
	head, content := rm.PeekHead()
	// A GET that never leads to a websocket join shouldn't leave a room
	// actor running forever; only a note someone has actually joined
	// survives this.
	s.registry.ReleaseIfEmpty(id)

	resp := noteResponse{Status: "success"}
	if head != "" {
		h := string(head)
		resp.LatestHash = &h
		resp.LatestContent = &content
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("transport: failed to encode note response", "note", id, "err", err)
	}
}
