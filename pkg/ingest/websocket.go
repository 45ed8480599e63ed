package ingest

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nicktill/rfiscope/pkg/config"
	"github.com/nicktill/rfiscope/pkg/httpx"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// watcher is one /v1/ws connection. receivers is nil when it watches all.
type watcher struct {
	conn      *websocket.Conn
	send      chan SessionUpdate
	receivers map[string]bool
}

func (w *watcher) wants(u SessionUpdate) bool {
	return w.receivers == nil || w.receivers[u.Receiver]
}

// SessionHub fans session updates out to connected websocket clients.
// Each watcher has its own queue; a watcher that falls a full queue behind
// is disconnected instead of stalling the others.
type SessionHub struct {
	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	updates  chan SessionUpdate
}

// NewSessionHub creates a hub. Call Run to start delivering updates.
func NewSessionHub() *SessionHub {
	return &SessionHub{
		watchers: make(map[*watcher]struct{}),
		updates:  make(chan SessionUpdate, config.WSBroadcastBuffer),
	}
}

func (h *SessionHub) add(w *watcher) {
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	count := len(h.watchers)
	h.mu.Unlock()
	log.Printf("Session watcher connected (total: %d)", count)
}

// remove drops w and closes its queue. Safe to call more than once.
func (h *SessionHub) remove(w *watcher) {
	h.mu.Lock()
	_, ok := h.watchers[w]
	if ok {
		delete(h.watchers, w)
		close(w.send)
	}
	count := len(h.watchers)
	h.mu.Unlock()
	if ok {
		log.Printf("Session watcher disconnected (total: %d)", count)
	}
}

// Run delivers queued updates until ctx is done, then disconnects everyone
func (h *SessionHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for w := range h.watchers {
				delete(h.watchers, w)
				close(w.send)
			}
			h.mu.Unlock()
			return
		case u := <-h.updates:
			var slow []*watcher
			h.mu.RLock()
			for w := range h.watchers {
				if !w.wants(u) {
					continue
				}
				select {
				case w.send <- u:
				default:
					slow = append(slow, w)
				}
			}
			h.mu.RUnlock()

			for _, w := range slow {
				log.Printf("Session watcher too slow, disconnecting")
				h.remove(w)
			}
		}
	}
}

// Broadcast queues an update for delivery. It never blocks; it reports
// false when the queue is full and the update was dropped.
func (h *SessionHub) Broadcast(u SessionUpdate) bool {
	select {
	case h.updates <- u:
		return true
	default:
		return false
	}
}

// HasClients returns true if there are any connected WebSocket clients
func (h *SessionHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers) > 0
}

// HandleWebSocket handles GET /v1/ws. The optional receivers query
// parameter (aliases allowed) limits updates to those receivers. Clients only
// receive; anything they send is read and dropped so control frames keep
// flowing.
func (h *Handler) HandleWebSocket(hub *SessionHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var receivers map[string]bool
		if names := httpx.SplitList(r.URL.Query()["receivers"]); len(names) > 0 {
			if h.policy != nil {
				expanded, err := h.policy.Expand(names)
				if err != nil {
					httpx.RespondFieldError(w, http.StatusBadRequest, "receivers", err.Error())
					return
				}
				names = expanded
			}
			receivers = make(map[string]bool, len(names))
			for _, name := range names {
				receivers[name] = true
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		wt := &watcher{
			conn:      conn,
			send:      make(chan SessionUpdate, config.WSChannelBuffer),
			receivers: receivers,
		}
		hub.add(wt)

		done := make(chan struct{})
		go func() {
			defer close(done)
			writeUpdates(wt)
		}()

		conn.SetReadLimit(config.WSMaxMessageBytes)
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}

		hub.remove(wt)
		<-done
	}
}

// writeUpdates owns all writes to the connection: queued updates and pings.
// It closes the connection when the queue is closed or a write fails.
func writeUpdates(wt *watcher) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()
	defer wt.conn.Close()

	for {
		select {
		case u, ok := <-wt.send:
			wt.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				wt.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := wt.conn.WriteJSON(u); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			wt.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := wt.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
