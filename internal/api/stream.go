package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsc-hexbins/server/internal/appstore"
	"github.com/dsc-hexbins/server/internal/hexbin"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// readUntilClosed drains client frames so control messages are handled and
// closes done once the peer goes away.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Stream] websocket read: %v", err)
			}
			return
		}
	}
}

// pump writes every value from src as JSON until src is closed, the peer
// disconnects or a write fails.
func pump[T any](conn *websocket.Conn, src <-chan T, encode func(T) interface{}) {
	done := make(chan struct{})
	go readUntilClosed(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case v, ok := <-src:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(encode(v)); err != nil {
				log.Printf("[Stream] websocket write: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// viewStreamHandler pushes the session's view after every change.
func viewStreamHandler(w http.ResponseWriter, r *http.Request) {
	s := getSession(r)
	if s == nil {
		http.Error(w, "session not available", http.StatusInternalServerError)
		return
	}

	// Subscribe before the handshake completes so no change is missed.
	views, unsubscribe := s.Inspector().Subscribe()
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Stream] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	pump(conn, views, func(v hexbin.View) interface{} { return newViewResponse(v) })
}

// intentStreamHandler pushes panel intents published to the shared store.
func intentStreamHandler(store *appstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intents, unsubscribe := store.SubscribeIntents()
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[Stream] websocket upgrade: %v", err)
			return
		}
		defer conn.Close()
		pump(conn, intents, func(in appstore.Intent) interface{} { return in })
	}
}
