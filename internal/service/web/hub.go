// FILE: internal/service/web/hub.go
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"socks5_inspector/internal/shared/logger"
	manager "socks5_inspector/proxypool"
	"socks5_inspector/proxypool/model"
)

const (
	broadcastBuffer = 256
	writeWait       = 5 * time.Second
)

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type    string      `json:"type"`
	BatchID string      `json:"batch_id,omitempty"`
	Data    interface{} `json:"data"`
}

// BatchStarted is the payload of a batch_started message.
type BatchStarted struct {
	Total int `json:"total"`
}

// BatchFinished 是 batch_finished 消息的负载，不包含完整记录列表。
type BatchFinished struct {
	Total        int    `json:"total"`
	Succeeded    int    `json:"succeeded"`
	Persisted    int    `json:"persisted"`
	PersistError string `json:"persist_error,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

// Hub maintains the set of active clients and broadcasts batch progress to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
}

var _ manager.Observer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
	}
}

// Run 处理注册、注销与广播，直到 ctx 结束后关闭所有连接。
func (h *Hub) Run(ctx context.Context) {
	l := logger.WithComponent("Web")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// the read pump unregisters disconnected clients
					l.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) send(msg WebSocketMessage) {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		l := logger.WithComponent("Web")
		l.Error().Err(err).Str("type", msg.Type).Msg("Hub: Failed to marshal message")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		// Do not log warning for full channel here to avoid log spam
	}
}

func (h *Hub) OnBatchStarted(batchID string, total int) {
	h.send(WebSocketMessage{Type: "batch_started", BatchID: batchID, Data: BatchStarted{Total: total}})
}

// OnRecord 广播单条检测结果
func (h *Hub) OnRecord(batchID string, rec model.Record) {
	h.send(WebSocketMessage{Type: "probe_result", BatchID: batchID, Data: rec})
}

func (h *Hub) OnBatchFinished(report *manager.Report) {
	h.send(WebSocketMessage{
		Type:    "batch_finished",
		BatchID: report.BatchID,
		Data: BatchFinished{
			Total:        report.Total,
			Succeeded:    report.Succeeded,
			Persisted:    report.Persisted,
			PersistError: report.PersistError,
			ElapsedMs:    report.Elapsed.Milliseconds(),
		},
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := logger.WithComponent("Web")
		l.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// This is a read pump. It's needed to detect when a client closes the connection.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					l := logger.WithComponent("Web")
					l.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
