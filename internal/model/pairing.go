package model

import (
	"time"

	apperrors "github.com/openclaw/channel-router/internal/errors"
)

type PairingCode struct {
	ID                 string        `db:"id" json:"id"`
	UserID             string        `db:"user_id" json:"userId"`
	Code               string        `db:"code" json:"code"`
	Command            string        `db:"command" json:"command"`
	Status             PairingStatus `db:"status" json:"status"`
	Label              *string       `db:"label" json:"label,omitempty"`
	BoundPhone         *string       `db:"bound_phone" json:"boundPhone,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"createdAt"`
	ExpiresAt          time.Time     `db:"expires_at" json:"expiresAt"`
	LinkedAt           *time.Time    `db:"linked_at" json:"linkedAt,omitempty"`
	ConsumedMessageSID *string       `db:"consumed_message_sid" json:"-"`
}

// IsExpired reports whether a pending code has passed its deadline at now.
func (p *PairingCode) IsExpired(now time.Time) bool {
	return p.Status == PairingStatusPending && !now.Before(p.ExpiresAt)
}

type CreatePairingCodeParams struct {
	UserID    string
	Code      string
	Command   string
	Label     *string
	ExpiresAt time.Time
}

type PairingFilter struct {
	UserID string
	Status *PairingStatus
	Limit  int
	Offset int
}

// CanTransition reports whether the lifecycle may move a pairing from one
// status to another. Only pending->linked and pending->expired qualify.
func CanTransition(from, to PairingStatus) bool {
	if from != PairingStatusPending {
		return false
	}
	switch to {
	case PairingStatusLinked, PairingStatusExpired:
		return true
	default:
		return false
	}
}

func ValidateTransition(from, to PairingStatus) error {
	if !CanTransition(from, to) {
		return apperrors.InvalidTransition(string(from), string(to))
	}
	return nil
}

// ValidateCancel checks the administrative pending->canceled move, which sits
// outside the automatic lifecycle.
func ValidateCancel(from PairingStatus) error {
	if from != PairingStatusPending {
		return apperrors.InvalidTransition(string(from), string(PairingStatusCanceled))
	}
	return nil
}
