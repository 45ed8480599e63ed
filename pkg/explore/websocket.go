package explore

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/httpx"
	"github.com/nicktill/rfiscope/pkg/viewport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients send no Origin
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Message types sent over the viewport websocket
const (
	MessageResult = "result"
	MessageStale  = "stale"
	MessageError  = "error"
)

// Message is one server reply on the viewport websocket
type Message struct {
	Type    string           `json:"type"`
	Seq     uint64           `json:"seq"`
	Message string           `json:"message,omitempty"`
	Result  *viewport.Result `json:"result,omitempty"`
}

// wsConn serialises writes from the reply loop and the pinger
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// HandleWebSocket handles GET /v1/explore/{id}/ws. The client sends
// ViewportRequest messages and receives one Message per request.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	e, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	wsConnections.Inc()
	defer wsConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn}
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(config.WSMaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		var req ViewportRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Exploration %s websocket error: %v", e.ID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		e.touch(h.registry.now())

		if err := c.writeJSON(h.reply(ctx, e, req)); err != nil {
			log.Printf("Exploration %s websocket write failed: %v", e.ID, err)
			return
		}
	}
}

func (h *Handler) reply(ctx context.Context, e *Exploration, req ViewportRequest) Message {
	width, err := h.pixelWidth(req.PixelWidth)
	if err != nil {
		return Message{Type: MessageError, Seq: req.Seq, Message: err.Error()}
	}
	req.PixelWidth = width

	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	result, err := e.Reduce(ctx, req.Viewport, req.Seq)
	switch {
	case errors.Is(err, viewport.ErrStaleRequest):
		return Message{Type: MessageStale, Seq: req.Seq, Message: err.Error()}
	case err != nil:
		return Message{Type: MessageError, Seq: req.Seq, Message: err.Error()}
	}
	return Message{Type: MessageResult, Seq: req.Seq, Result: result}
}
