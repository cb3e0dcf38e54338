// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"log"
	"time"

	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/Meow711/story-generator-ui/internal/wizard"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 54 * time.Second
)

// WebSocketHandler 处理会话 WebSocket 连接，并把服务事件转发给对应会话的客户端
type WebSocketHandler struct {
	storyService *services.StoryService
	hub          *WebSocketManager
}

// wsRequest 客户端发来的消息
type wsRequest struct {
	Type  string `json:"type"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// NewWebSocketHandler 创建处理器并订阅会话事件
func NewWebSocketHandler(storyService *services.StoryService) *WebSocketHandler {
	wh := &WebSocketHandler{
		storyService: storyService,
		hub:          NewWebSocketManager(),
	}
	wh.hub.Start()

	storyService.Subscribe(func(event services.SessionEvent) {
		wh.hub.BroadcastToSession(event.SessionID, event)
		if event.Type == services.EventSessionDeleted {
			wh.hub.DropSession(event.SessionID)
		}
	})
	return wh
}

// Close 关闭所有连接
func (wh *WebSocketHandler) Close() {
	wh.hub.Stop()
}

// SessionWebSocket 处理会话 WebSocket 连接
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	view, err := wh.storyService.View(sessionID)
	if err != nil {
		NewResponseHelper().NotFound(c, "会话", "会话ID: "+sessionID)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 会话 WebSocket 升级失败: %v", err)
		return
	}

	client := NewWebSocketClient(conn, sessionID)
	wh.hub.Register(client)
	defer wh.hub.Unregister(client)

	go wh.handleWebSocketWrites(client)

	client.SendMessage(services.SessionEvent{
		Type:      "connected",
		SessionID: sessionID,
		Data:      view,
		Timestamp: time.Now(),
	})

	wh.handleWebSocketReads(client)
}

// handleWebSocketReads 读取客户端消息直到连接断开
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for !client.IsClosed() {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			return
		}

		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var req wsRequest
		if err := json.Unmarshal(messageBytes, &req); err != nil {
			client.SendError("无效的消息格式")
			continue
		}
		wh.handleMessage(client, req)
	}
}

// handleWebSocketWrites 把发送队列写入连接并定期 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.done:
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理收到的 WebSocket 消息，状态变化通过会话事件广播
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, req wsRequest) {
	id := client.sessionID

	switch req.Type {
	case "ping":
		client.SendMessage(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		})

	case "advance":
		taskID, err := wh.storyService.AdvanceAsync(id)
		if err != nil {
			client.SendError(appMessage(err))
			return
		}
		client.SendMessage(map[string]interface{}{
			"type":    "advance_started",
			"task_id": taskID,
		})

	case "restart":
		if _, err := wh.storyService.Restart(id); err != nil {
			client.SendError(appMessage(err))
		}

	case "draft":
		if err := wh.storyService.SetDraft(id, wizard.Field(req.Field), req.Value); err != nil {
			client.SendError(appMessage(err))
		}

	case "blur":
		if _, err := wh.storyService.Blur(id, wizard.Field(req.Field)); err != nil {
			client.SendError(appMessage(err))
		}

	default:
		client.SendError("未知的消息类型: " + req.Type)
	}
}
