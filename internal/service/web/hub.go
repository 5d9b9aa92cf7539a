package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clashdash/internal/app"
	"clashdash/internal/clashapi"
	"clashdash/internal/shared/logger"
)

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to the
// clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
	}
}

// Run 处理注册/注销/广播, 直到 ctx 结束; 结束时关闭所有连接。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
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
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// the read pump unregisters dead clients
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
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

func (h *Hub) send(msgType string, data interface{}, warnWhenFull bool) {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("type", msgType).Msg("Hub: Failed to marshal message")
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		if warnWhenFull {
			logger.Warn().Str("type", msgType).Msg("Hub: Broadcast channel is full, skipping message.")
		}
	}
}

// BroadcastEvent 把应用状态事件 (status_update 等) 推送给所有客户端
func (h *Hub) BroadcastEvent(ev app.Event) {
	logger.Debug().Str("type", string(ev.Type)).Int("servers", len(ev.Servers)).Msg("Hub: Broadcasting state event.")
	h.send(string(ev.Type), ev.Servers, true)
}

// BroadcastTraffic 广播当前服务器的实时流量; 通道满时静默丢弃
func (h *Hub) BroadcastTraffic(t clashapi.Traffic) {
	h.send("traffic", t, false)
}

// RelayTraffic 订阅当前选中服务器的 /traffic 并转发给所有客户端。
// 切换当前服务器时重新连接; 连接失败后按 retry 间隔重试。
func (h *Hub) RelayTraffic(ctx context.Context, state *app.State, retry time.Duration) {
	changed := make(chan struct{}, 1)
	unsubscribe := state.Subscribe(func(ev app.Event) {
		if ev.Type != app.EventCurrentChanged {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for ctx.Err() == nil {
		cur, ok := state.Current()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				continue
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-changed:
				cancel()
			case <-streamCtx.Done():
			}
		}()
		err := state.Client().StreamTraffic(streamCtx, cur, h.BroadcastTraffic)
		switched := streamCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if err != nil {
			logger.Debug().Err(err).Str("server", cur.DisplayName()).Msg("Hub: Traffic stream ended.")
		}
		if switched {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-time.After(retry):
		}
	}
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
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.done:
		conn.Close()
		return
	}

	// read pump, detects when the client closes the connection
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
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
