// Package wsapi upgrades GET /ws/:session_id to a websocket connection
// and streams internal/eventbus events to the client: one read pump
// that discards client frames, one write pump draining the bus
// subscriber.
package wsapi

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/simulation"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	Bus *eventbus.Bus
	Sim *simulation.Service
}

func NewHandler(bus *eventbus.Bus, sim *simulation.Service) *Handler {
	return &Handler{Bus: bus, Sim: sim}
}

func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Param("session_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("wsapi upgrade failed session_id=%s err=%v", sessionID, err)
		return
	}

	sub := h.Bus.Subscribe(sessionID)
	defer h.Bus.Unsubscribe(sessionID, sub)

	if sess, err := h.Sim.GetSession(sessionID); err == nil {
		_ = conn.WriteJSON(eventbus.SessionState(sess.Running))
	}

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)
}

// readPump discards every client frame; the channel is informational
// only, per the server-authoritative event stream.
func (h *Handler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *eventbus.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
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
