package handler

import (
	"context"
	"net/http"

	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/middleware"
	"github.com/openclaw/channel-router/internal/service"
	"github.com/openclaw/channel-router/internal/stream"
)

type ChatAPI interface {
	StartTurn(ctx context.Context, userID string, req service.ChatTurnRequest) (*service.ChatTurn, error)
}

type ChatHandler struct {
	chat ChatAPI
}

func NewChatHandler(chat ChatAPI) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// POST /v1/chat/turns
// Errors found before the turn starts are plain JSON errors. Once streaming
// has begun the status is 200 and failures arrive as an error frame.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req service.ChatTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	turn, err := h.chat.StartTurn(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	turn.Stream(r.Context(), stream.NewWriter(w))
}
