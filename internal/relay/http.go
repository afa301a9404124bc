package relay

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// A relay is expected to sit behind a reverse proxy that already
	// enforces origin policy; this mirrors both
	// sumanthd032-CollabText/server and /agent's permissive upgrader.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bundles a Hub with the Authenticator it trusts, exposing the
// two routes spec.md §6 implies: token issuance and the websocket
// upgrade itself.
type Server struct {
	hub  *Hub
	auth *Authenticator
}

// NewServer builds the mux.Router cmd/relayserver listens with.
func NewServer(hub *Hub, auth *Authenticator) *mux.Router {
	s := &Server{hub: hub, auth: auth}
	r := mux.NewRouter()
	r.HandleFunc("/auth", auth.ServeHTTP).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)
	return r
}

// serveWS validates the token query parameter, upgrades the
// connection, and hands it to the Hub for the room named in the
// token's claim — generalizing agent/main.go's serveWs, which upgraded
// unconditionally into one hardcoded document.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	room, err := s.auth.verify(token)
	if err != nil || room == "" {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Join(r.Context(), room, conn)
}
