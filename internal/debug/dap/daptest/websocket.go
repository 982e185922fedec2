package daptest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// WebSocketServer serves the debugger WebSocket endpoint at /ws.
type WebSocketServer struct {
	srv   *httptest.Server
	conns chan *ServerConn
}

// NewWebSocketServer starts a server that is shut down when the test ends.
func NewWebSocketServer(t testing.TB) *WebSocketServer {
	t.Helper()

	s := &WebSocketServer{conns: make(chan *ServerConn, 16)}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	r := chi.NewRouter()
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		s.conns <- pump(ws)
	})

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the ws:// address of the /ws endpoint.
func (s *WebSocketServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Accept waits for the next client connection.
func (s *WebSocketServer) Accept(t testing.TB) *ServerConn {
	t.Helper()
	select {
	case sc := <-s.conns:
		return sc
	case <-time.After(Wait):
		t.Fatalf("no websocket client within %s", Wait)
	}
	return nil
}

// pump bridges a WebSocket connection to ServerConn channels.
func pump(ws *websocket.Conn) *ServerConn {
	sc := newServerConn()
	sc.onClose = func() { _ = ws.Close() }

	go func() {
		defer sc.close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			select {
			case sc.toServer <- data:
			case <-sc.done:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case frame := <-sc.toClient:
				if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					sc.close()
					return
				}
			case <-sc.done:
				return
			}
		}
	}()

	return sc
}
