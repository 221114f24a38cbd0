package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Chat struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	ModelID   string    `gorm:"not null" json:"modelId"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID          string    `gorm:"size:36;not null;index:idx_messages_chat_created,priority:1" json:"chatId"`
	Role            string    `gorm:"size:16;not null" json:"role"`
	Content         string    `gorm:"not null" json:"content"`
	ThinkingProcess *string   `json:"thinkingProcess,omitempty"`
	CreatedAt       time.Time `gorm:"index:idx_messages_chat_created,priority:2" json:"createdAt"`
}

// MessageExtra carries optional per-message fields.
type MessageExtra struct {
	ThinkingProcess string
}

type ChatUpdate struct {
	Name    *string
	ModelID *string
}

type Admin struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Session struct {
	ID        string    `gorm:"primaryKey;size:36"`
	AdminID   string    `gorm:"size:36;not null;index"`
	TokenHash string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time
}
