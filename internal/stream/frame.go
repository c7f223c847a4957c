// Package stream implements the newline-delimited JSON framing used for
// chat turns: zero or more message, event or error frames followed by a
// single done frame.
package stream

import "encoding/json"

const ContentType = "application/x-ndjson"

type FrameType string

const (
	FrameMessage FrameType = "message"
	FrameEvent   FrameType = "event"
	FrameError   FrameType = "error"
	FrameDone    FrameType = "done"
)

type Frame struct {
	Type    FrameType       `json:"type"`
	Event   string          `json:"event,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func MessageFrame(event, role, content string) Frame {
	return Frame{Type: FrameMessage, Event: event, Role: role, Content: content}
}

func ErrorFrame(msg string) Frame {
	return Frame{Type: FrameError, Error: msg}
}
