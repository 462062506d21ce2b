package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hitomi/internal/platform"
	"hitomi/internal/session"
)

// EventType はイベント種別を表す
type EventType string

const (
	// EventStateChange はセッション状態の変更を表す
	EventStateChange EventType = "state_change"
	// EventDeviceChange はデバイス構成の変更を表す
	EventDeviceChange EventType = "device_change"
	// EventPermissionChange は権限状態の変更を表す
	EventPermissionChange EventType = "permission_change"
	// EventError はエラー発生を表す
	EventError EventType = "error"
)

// Event はWebSocketで配信されるイベント
type Event struct {
	Type        EventType                                            `json:"type"`
	State       *session.State                                       `json:"state,omitempty"`
	Devices     []platform.DeviceDescriptor                          `json:"devices,omitempty"`
	Permissions map[platform.PermissionKind]platform.PermissionValue `json:"permissions,omitempty"`
	Message     string                                               `json:"message,omitempty"`
	Timestamp   time.Time                                            `json:"timestamp"`
}

// eventClient は単一のWebSocket接続を表す
type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

// newEventClient は新しいクライアントを作成し書き込みループを開始する
func newEventClient(conn *websocket.Conn) *eventClient {
	c := &eventClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

// writePump は送信チャンネルの内容を接続へ書き込む
func (c *eventClient) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// EventHub は全WebSocketクライアントへのイベント配信を担う
type EventHub struct {
	mu      sync.Mutex
	clients map[*eventClient]bool
	closed  bool
}

// NewEventHub は新しいEventHubを作成する
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*eventClient]bool),
	}
}

// Publish は全クライアントへイベントを配信する
// 送信が追いつかないクライアントへのメッセージは破棄する
func (h *EventHub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// クライアントが遅すぎる場合はメッセージを破棄
		}
	}
}

// add はクライアントを登録する
func (h *EventHub) add(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

// remove はクライアントを登録解除する
func (h *EventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[c]; exists {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close は全クライアントを切断しハブを閉じる
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*eventClient]bool)
}

// upgrader はWebSocketへのアップグレード設定
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleEvents はWebSocket接続を確立しイベントを配信する
// 接続直後に現在の状態スナップショットを送信する
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := newEventClient(conn)
	if !s.hub.add(client) {
		_ = conn.Close()
		return
	}

	// 初回スナップショット
	state := s.controller.GetState()
	if data, err := json.Marshal(Event{
		Type:      EventStateChange,
		State:     &state,
		Timestamp: time.Now(),
	}); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}

	// 読み取りループ（切断検出用）
	go func() {
		defer s.hub.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
