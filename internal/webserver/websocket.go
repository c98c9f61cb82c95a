package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// WSMessage はWebSocketメッセージの構造を定義
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSClient はWebSocket接続クライアントを表す
type WSClient struct {
	hub         *WSHub
	conn        *websocket.Conn
	send        chan []byte
	clientID    string
	connectedAt time.Time
}

// WSHub はすべてのWebSocket接続を管理
type WSHub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan WSMessage
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// オーバーレイは別オリジンから接続する
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan WSMessage, 256),
		done:       make(chan struct{}),
	}
}

// Start WebSocketハブを起動
func (h *WSHub) Start() {
	go h.run()
}

// Stop closes every client connection and stops the hub.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *WSHub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			logger.Info("WebSocket client connected",
				zap.String("clientId", client.clientID),
				zap.Int("total_clients", total))

			// 接続確認メッセージを送信
			connMsg := WSMessage{
				Type: "connected",
				Data: json.RawMessage(`{"clientId":"` + client.clientID + `"}`),
			}
			if data, err := json.Marshal(connMsg); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				remaining := len(h.clients)
				h.mu.Unlock()

				logger.Info("WebSocket client disconnected",
					zap.String("clientId", client.clientID),
					zap.Int("remaining_clients", remaining))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("Failed to marshal WebSocket message", zap.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// クライアントのバッファがフルの場合は切断
					go h.drop(client)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			// ハートビート送信
			h.mu.RLock()
			for client := range h.clients {
				if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					go h.drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WSHub) drop(c *WSClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
	c.conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast すべてのクライアントにメッセージを送信
func (h *WSHub) Broadcast(msgType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to marshal WebSocket broadcast data", zap.Error(err))
		return err
	}

	select {
	case h.broadcast <- WSMessage{Type: msgType, Data: jsonData}:
		// live_stateは頻繁すぎるのでログをスキップ
		if msgType != notification.TypeLiveState {
			logger.Debug("WebSocket message queued for broadcast", zap.String("message_type", msgType))
		}
	default:
		logger.Warn("WebSocket broadcast channel full, message dropped", zap.String("message_type", msgType))
	}
	return nil
}

// Publish sends a notice to overlay clients. Live states are included.
func (h *WSHub) Publish(_ context.Context, n notification.Notice) error {
	return h.Broadcast(n.Type, n)
}

// handleWS WebSocket接続を処理
func (h *WSHub) handleWS(w http.ResponseWriter, r *http.Request) {
	// クライアントIDを取得または生成
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = generateClientID()
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	client := &WSClient{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, 256),
		clientID:    clientID,
		connectedAt: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			break
		}

		logger.Debug("Received WebSocket message from client",
			zap.String("clientId", c.clientID),
			zap.String("message", string(message)))
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// generateClientID クライアントIDを生成
func generateClientID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "ws-" + time.Now().Format("20060102150405.000000000")
	}
	return "ws-" + id
}
