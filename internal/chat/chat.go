// internal/chat/chat.go
package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/models"
)

// TimestampLayout 消息时间格式（时:分）
const TimestampLayout = "15:04"

// State 聊天面板快照
type State struct {
	IsOpen      bool                 `json:"is_open"`
	Users       []models.ContactUser `json:"users"`
	CurrentUser *models.ContactUser  `json:"current_user,omitempty"`
	Messages    []models.Message     `json:"messages"`
}

// Chat 单个会话的角色聊天状态，只在内存中保存
type Chat struct {
	mu       sync.RWMutex
	isOpen   bool
	users    []models.ContactUser
	current  string
	messages []models.Message
	now      func() time.Time
}

// New 创建空的聊天状态
func New() *Chat {
	return &Chat{
		users:    []models.ContactUser{},
		messages: []models.Message{},
		now:      time.Now,
	}
}

// OpenChat 打开面板，name 非空时同时选中该联系人
func (c *Chat) OpenChat(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name != "" {
		if c.indexOf(name) < 0 {
			return apperrors.NewNotFoundError(fmt.Sprintf("联系人不存在: %s", name), nil).WithCode(apperrors.CodeContactNotFound)
		}
		c.current = name
	}
	c.isOpen = true
	return nil
}

// CloseChat 关闭面板，不清空消息
func (c *Chat) CloseChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOpen = false
}

// SetUsers 替换联系人列表，名字必须唯一
func (c *Chat) SetUsers(users []models.ContactUser) error {
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u.Name == "" {
			return apperrors.NewValidationError("联系人名字不能为空", nil)
		}
		if seen[u.Name] {
			return apperrors.NewValidationError(fmt.Sprintf("联系人名字重复: %s", u.Name), nil)
		}
		seen[u.Name] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.users = append([]models.ContactUser(nil), users...)
	if !seen[c.current] {
		c.current = ""
	}
	return nil
}

// SeedFromEntities 由计划角色生成联系人
func (c *Chat) SeedFromEntities(entities []models.Entity) error {
	users := make([]models.ContactUser, 0, len(entities))
	for _, e := range entities {
		users = append(users, models.ContactFromEntity(e))
	}
	return c.SetUsers(users)
}

// Users 联系人列表副本
func (c *Chat) Users() []models.ContactUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyUsers()
}

func (c *Chat) copyUsers() []models.ContactUser {
	users := make([]models.ContactUser, len(c.users))
	copy(users, c.users)
	return users
}

// SetCurrentUser 选中联系人
func (c *Chat) SetCurrentUser(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(name) < 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("联系人不存在: %s", name), nil).WithCode(apperrors.CodeContactNotFound)
	}
	c.current = name
	return nil
}

// AppendMessage 按插入顺序追加消息，并刷新相关联系人的最后一条消息
func (c *Chat) AppendMessage(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(msg)
}

func (c *Chat) appendLocked(msg models.Message) {
	c.messages = append(c.messages, msg)

	contact := msg.Sender
	if contact == models.Me {
		contact = msg.Receiver
	}
	if i := c.indexOf(contact); i >= 0 {
		c.users[i].LastMessage = msg.Text
	}
}

// Send 以当前用户身份向选中的联系人发送一条消息，只做本地回显
func (c *Chat) Send(text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, apperrors.NewValidationError("消息内容不能为空", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == "" {
		return models.Message{}, apperrors.NewConflictError("尚未选择联系人", nil).WithCode(apperrors.CodeNoCurrentContact)
	}

	msg := models.Message{
		ID:        len(c.messages) + 1,
		Sender:    models.Me,
		Receiver:  c.current,
		Text:      text,
		Timestamp: c.now().Format(TimestampLayout),
	}
	c.appendLocked(msg)
	return msg, nil
}

// Thread 与联系人的双方对话，contact 为空时使用当前联系人
func (c *Chat) Thread(contact string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if contact == "" {
		contact = c.current
	}
	if contact == "" {
		return []models.Message{}
	}
	return FilterThread(c.messages, contact)
}

// FilterThread 保留我发给联系人的消息以及联系人发出的消息，保持原有顺序
func FilterThread(messages []models.Message, contact string) []models.Message {
	thread := make([]models.Message, 0)
	for _, m := range messages {
		if (m.Sender == models.Me && m.Receiver == contact) || m.Sender == contact {
			thread = append(thread, m)
		}
	}
	return thread
}

// Snapshot 当前状态副本
func (c *Chat) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := State{
		IsOpen:   c.isOpen,
		Users:    c.copyUsers(),
		Messages: make([]models.Message, len(c.messages)),
	}
	copy(state.Messages, c.messages)
	if i := c.indexOf(c.current); i >= 0 {
		u := c.users[i]
		state.CurrentUser = &u
	}
	return state
}

// MergeAvatars 把一批头像结果合并为一次更新，只更新仍然存在的联系人
func (c *Chat) MergeAvatars(users []models.ContactUser) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range users {
		if i := c.indexOf(u.Name); i >= 0 {
			c.users[i].Avatar = u.Avatar
		}
	}
}

func (c *Chat) indexOf(name string) int {
	if name == "" {
		return -1
	}
	for i := range c.users {
		if c.users[i].Name == name {
			return i
		}
	}
	return -1
}

// Reset 清空联系人与消息并关闭面板
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isOpen = false
	c.users = []models.ContactUser{}
	c.current = ""
	c.messages = []models.Message{}
}
