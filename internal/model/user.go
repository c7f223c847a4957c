package model

import (
	"time"
)

type User struct {
	ID              string     `db:"id" json:"id"`
	APITokenHash    *string    `db:"api_token_hash" json:"-"`
	DisplayName     *string    `db:"display_name" json:"displayName,omitempty"`
	RateLimitPerMin int        `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

func (u *User) Active() bool {
	return u != nil && u.DeletedAt == nil
}
