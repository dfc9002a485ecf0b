package proxy

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"webbroker/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server relays a debugging client's websocket to a session's CDP endpoint,
// giving a live view onto any backend that exposes a connect URL.
type Server struct {
	sessionMgr *session.Manager
}

// NewServer creates a live-view proxy over the session manager.
func NewServer(sessionMgr *session.Manager) *Server {
	return &Server{sessionMgr: sessionMgr}
}

// HandleDebugConnection upgrades the request and proxies frames both ways.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	connectURL, err := s.sessionMgr.ConnectURL(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer clientConn.Close()

	log.Printf("Client connected to session %s live view", sessionID)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	browserConn, _, err := websocket.DefaultDialer.DialContext(ctx, connectURL, nil)
	if err != nil {
		log.Printf("Failed to connect to browser CDP endpoint: %v", err)
		clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("Error connecting: %v", err)))
		return
	}
	defer browserConn.Close()

	s.sessionMgr.Touch(sessionID)

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.proxyMessages(clientConn, browserConn, "client→browser")
	}()
	go func() {
		errChan <- s.proxyMessages(browserConn, clientConn, "browser→client")
	}()

	// Either direction closing ends the relay.
	err = <-errChan
	if err != nil && err != io.EOF {
		log.Printf("Proxy error for session %s: %v", sessionID, err)
	}

	log.Printf("Client disconnected from session %s live view", sessionID)
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error (%s): %v", direction, err)
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			log.Printf("Failed to write message (%s): %v", direction, err)
			return err
		}
	}
}
