package model

import (
	"time"
)

type Conversation struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"userId"`
	SessionLabel  string     `db:"session_label" json:"sessionLabel"`
	Title         string     `db:"title" json:"title"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

type CreateConversationParams struct {
	UserID       string
	SessionLabel string
	Title        string
}
