// internal/api/chat_handlers.go
package api

import (
	"net/http"

	"github.com/Meow711/story-generator-ui/internal/chat"
	"github.com/gin-gonic/gin"
)

// OpenChatRequest 打开聊天面板，可同时选中联系人
type OpenChatRequest struct {
	Name string `json:"name"`
}

// SelectContactRequest 选择当前联系人
type SelectContactRequest struct {
	Name string `json:"name" binding:"required"`
}

// SendMessageRequest 发送消息
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// sessionChat 取会话的聊天状态，失败时已写好响应
func (h *Handler) sessionChat(c *gin.Context) (*chat.Chat, bool) {
	ch, err := h.StoryService.Chat(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "会话", "会话ID: "+c.Param("id"))
		return nil, false
	}
	return ch, true
}

// GetChat 聊天面板状态
func (h *Handler) GetChat(c *gin.Context) {
	ch, ok := h.sessionChat(c)
	if !ok {
		return
	}
	h.Response.Success(c, ch.Snapshot())
}

// OpenChat 打开聊天面板
func (h *Handler) OpenChat(c *gin.Context) {
	ch, ok := h.sessionChat(c)
	if !ok {
		return
	}

	var req OpenChatRequest
	// 请求体可选
	_ = c.ShouldBindJSON(&req)

	if err := ch.OpenChat(req.Name); err != nil {
		h.Response.FromAppError(c, err, "打开聊天失败")
		return
	}
	h.StoryService.NotifyChat(c.Param("id"))
	h.Response.Success(c, ch.Snapshot())
}

// CloseChat 关闭聊天面板
func (h *Handler) CloseChat(c *gin.Context) {
	ch, ok := h.sessionChat(c)
	if !ok {
		return
	}
	ch.CloseChat()
	h.StoryService.NotifyChat(c.Param("id"))
	h.Response.Success(c, ch.Snapshot())
}

// SelectContact 切换当前联系人
func (h *Handler) SelectContact(c *gin.Context) {
	ch, ok := h.sessionChat(c)
	if !ok {
		return
	}

	var req SelectContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if err := ch.SetCurrentUser(req.Name); err != nil {
		h.Response.FromAppError(c, err, "选择联系人失败")
		return
	}
	h.StoryService.NotifyChat(c.Param("id"))
	h.Response.Success(c, ch.Snapshot())
}

// SendMessage 向当前联系人发送消息
func (h *Handler) SendMessage(c *gin.Context) {
	ch, ok := h.sessionChat(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	msg, err := ch.Send(req.Text)
	if err != nil {
		h.Response.FromAppError(c, err, "发送消息失败")
		return
	}
	h.StoryService.NotifyChat(c.Param("id"))
	h.Response.Created(c, msg, "消息已发送")
}

// GetThread 与某个联系人的可见消息，contact 为空时使用当前联系人
func (h *Handler) GetThread(c *gin.Context) {
	ch, ok := h.sessionChat(c)
	if !ok {
		return
	}

	contact := c.Query("contact")
	if contact == "" {
		if current := ch.Snapshot().CurrentUser; current != nil {
			contact = current.Name
		}
	}
	if contact == "" {
		h.Response.Error(c, http.StatusBadRequest, ErrorNoCurrentUser, "未选择联系人")
		return
	}

	h.Response.Success(c, gin.H{
		"contact":  contact,
		"messages": ch.Thread(contact),
	})
}
