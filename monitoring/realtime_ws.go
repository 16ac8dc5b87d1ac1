package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// MessageType 消息类型
type MessageType string

const (
	PredictionMade MessageType = "prediction"
	BatchCompleted MessageType = "batch"
	Heartbeat      MessageType = "heartbeat"
)

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionEvent 单条预测事件
type PredictionEvent struct {
	RunID      string            `json:"run_id"`
	Source     string            `json:"source"`
	Label      string            `json:"label"`
	ProbLow    float64           `json:"prob_low"`
	ProbHigh   float64           `json:"prob_high"`
	Values     map[string]string `json:"values"`
	District   string            `json:"district,omitempty"`
	DurationMS float64           `json:"duration_ms"`
}

// BatchEvent 批量预测完成事件
type BatchEvent struct {
	RunID   string `json:"run_id"`
	BatchID string `json:"batch_id"`
	Rows    int    `json:"rows"`
	High    int    `json:"high"`
	Low     int    `json:"low"`
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type  string      `json:"type"` // subscribe, unsubscribe, ping
	Topic MessageType `json:"topic"`
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	subMu sync.RWMutex
	// 为空表示订阅全部类型
	subscriptions map[MessageType]bool
}

func (c *Client) wants(t MessageType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

type envelope struct {
	kind MessageType
	data []byte
}

// WebSocketHub WebSocket中心
type WebSocketHub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc

	sent    atomic.Int64
	metrics *MetricsCollector
}

// NewWebSocketHub 创建WebSocket中心；allowedOrigins 为空时接受任意来源
func NewWebSocketHub(allowedOrigins []string, metrics *MetricsCollector) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &WebSocketHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin] || origins["*"]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics,
	}
}

// Start 运行中心循环，直到 Stop
func (h *WebSocketHub) Start() {
	defer zap.L().Info("websocket hub stopped")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.reportClients(n)
			zap.L().Debug("websocket client connected", zap.String("client_id", client.clientID), zap.Int("total", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.reportClients(n)
			zap.L().Debug("websocket client disconnected", zap.String("client_id", client.clientID), zap.Int("total", n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.kind) {
					continue
				}
				select {
				case client.send <- msg.data:
					h.sent.Add(1)
				default:
					// 慢客户端直接断开
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-heartbeat.C:
			if err := h.Publish(Heartbeat, map[string]string{"status": "alive"}); err != nil {
				zap.L().Warn("heartbeat failed", zap.Error(err))
			}

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.reportClients(0)
			return
		}
	}
}

// Stop 停止WebSocket中心
func (h *WebSocketHub) Stop() {
	h.cancel()
}

func (h *WebSocketHub) reportClients(n int) {
	if h.metrics != nil {
		h.metrics.SetWebSocketClients(n)
	}
}

// ClientCount 当前连接数
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MessagesSent 已投递消息数
func (h *WebSocketHub) MessagesSent() int64 {
	return h.sent.Load()
}

// HandleWebSocket 处理WebSocket连接
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, 64),
		clientID:      uuid.NewString(),
		subscriptions: make(map[MessageType]bool),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// Publish 编码并广播消息；队列已满时丢弃
func (h *WebSocketHub) Publish(kind MessageType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "marshal %s event", kind)
	}
	msg, err := json.Marshal(Message{
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Data:      data,
		ID:        uuid.NewString(),
	})
	if err != nil {
		return eris.Wrap(err, "marshal message")
	}

	select {
	case h.broadcast <- envelope{kind: kind, data: msg}:
	default:
		zap.L().Warn("websocket broadcast queue is full, dropping message", zap.String("type", string(kind)))
	}
	return nil
}

// PublishPrediction 推送单条预测
func (h *WebSocketHub) PublishPrediction(ev PredictionEvent) error {
	return h.Publish(PredictionMade, ev)
}

// PublishBatch 推送批量完成事件
func (h *WebSocketHub) PublishBatch(ev BatchEvent) error {
	return h.Publish(BatchCompleted, ev)
}

// writePump WebSocket写入泵
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
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
				zap.L().Debug("websocket write failed", zap.String("client_id", c.clientID), zap.Error(err))
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

// readPump WebSocket读取泵
func (c *Client) readPump(h *WebSocketHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.L().Debug("websocket read failed", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage 处理订阅请求
func (c *Client) handleClientMessage(msg ClientMessage) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	}
}
