package model

import (
	"time"
)

type DeviceLink struct {
	ID                 string     `db:"id" json:"id"`
	UserID             string     `db:"user_id" json:"userId"`
	Phone              string     `db:"phone" json:"phone"`
	Label              *string    `db:"label" json:"label,omitempty"`
	LinkedAt           time.Time  `db:"linked_at" json:"linkedAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
	LastSeenAt         *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	LastConversationID *string    `db:"last_conversation_id" json:"lastConversationId,omitempty"`
}

type UpsertDeviceParams struct {
	UserID string
	Phone  string
	Label  *string
}

type DeviceFilter struct {
	UserID string
	Limit  int
	Offset int
}
