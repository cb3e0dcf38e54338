// internal/models/chat.go
package models

// Me 当前用户在消息中的发送者标识
const Me = "me"

// ContactUser 聊天联系人，由计划中的角色生成
type ContactUser struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
}

// ContactFromEntity 由角色创建联系人
func ContactFromEntity(e Entity) ContactUser {
	return ContactUser{Name: e.Name, Description: e.Description}
}

// Message 一条聊天消息
type Message struct {
	ID        int    `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}
