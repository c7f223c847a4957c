// Package agent talks to the downstream reply generators.
package agent

import (
	"context"
)

const RoleAgent = "agent"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EmitFunc receives each message a runner produces, in order.
type EmitFunc func(event string, msg Message)

type RunInput struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserMessage    string `json:"userMessage"`
}

// Runner produces a reply for one turn, reporting messages through emit.
type Runner interface {
	Run(ctx context.Context, in RunInput, emit EmitFunc) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, in RunInput, emit EmitFunc) error

func (f RunnerFunc) Run(ctx context.Context, in RunInput, emit EmitFunc) error {
	return f(ctx, in, emit)
}
