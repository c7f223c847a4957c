// Package events carries observability records for pairing and dispatch
// activity. Publishing never blocks or fails the caller.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicPairingCreated   = "pairing.created"
	TopicPairingLinked    = "pairing.linked"
	TopicPairingExpired   = "pairing.expired"
	TopicPairingCanceled  = "pairing.canceled"
	TopicDeviceUnlinked   = "device.unlinked"
	TopicDispatchComplete = "dispatch.completed"
	TopicDispatchFailed   = "dispatch.failed"
)

type Record struct {
	ID     string         `json:"id"`
	Topic  string         `json:"topic"`
	UserID string         `json:"userId,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	At     time.Time      `json:"at"`
}

func New(topic, userID string, data map[string]any) Record {
	return Record{
		ID:     uuid.NewString(),
		Topic:  topic,
		UserID: userID,
		Data:   data,
		At:     time.Now().UTC(),
	}
}

// Sink accepts records fire-and-forget.
type Sink interface {
	Publish(rec Record)
}

type nopSink struct{}

func (nopSink) Publish(Record) {}

// Nop discards every record.
func Nop() Sink { return nopSink{} }
