package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/agent"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/repository"
	"github.com/openclaw/channel-router/internal/stream"
	"github.com/openclaw/channel-router/internal/util"
)

type ChatTurnRequest struct {
	ConversationID string `json:"conversationId" validate:"required,uuid"`
	Message        string `json:"message" validate:"required,max=8000"`
}

// ChatService streams one chat turn from the dashboard to a response generator.
type ChatService struct {
	convRepo repository.ConversationRepository
	flags    FlagReader
	runners  map[model.DispatchPath]agent.Runner
	validate *validator.Validate
}

func NewChatService(
	convRepo repository.ConversationRepository,
	flags FlagReader,
	runners map[model.DispatchPath]agent.Runner,
) *ChatService {
	return &ChatService{
		convRepo: convRepo,
		flags:    flags,
		runners:  runners,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ChatTurn is a validated turn ready to stream.
type ChatTurn struct {
	ID     string
	Path   model.DispatchPath
	input  agent.RunInput
	runner agent.Runner
}

// StartTurn checks the request and conversation ownership. Errors here are
// returned before any frame is written.
func (s *ChatService) StartTurn(ctx context.Context, userID string, req ChatTurnRequest) (*ChatTurn, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.ValidationError("Invalid chat turn").WithDetails(err.Error())
	}
	if !util.IsValidUUID(req.ConversationID) {
		return nil, apperrors.NotFound("Conversation")
	}

	conv, err := s.convRepo.FindByID(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil {
		return nil, apperrors.NotFound("Conversation")
	}
	if conv.UserID != userID {
		return nil, apperrors.Forbidden("Conversation belongs to another user")
	}

	path := selectPath(ctx, s.flags, s.runners, req.Message)
	runner, ok := s.runners[path]
	if !ok || runner == nil {
		return nil, apperrors.NotConfigured("Response generator")
	}

	return &ChatTurn{
		ID:   uuid.NewString(),
		Path: path,
		input: agent.RunInput{
			ConversationID: conv.ID,
			UserID:         userID,
			UserMessage:    req.Message,
		},
		runner: runner,
	}, nil
}

// Stream relays the runner's messages as frames and always ends with the
// done frame, whether the turn succeeded or not.
func (t *ChatTurn) Stream(ctx context.Context, w *stream.Writer) {
	defer w.Close()

	start, _ := json.Marshal(map[string]string{"turnId": t.ID, "path": string(t.Path)})
	if err := w.Write(stream.Frame{Type: stream.FrameEvent, Event: "turn.started", Data: start}); err != nil {
		return
	}

	err := runGuarded(ctx, t.runner, t.input, func(event string, msg agent.Message) {
		if werr := w.Write(stream.MessageFrame(event, msg.Role, msg.Content)); werr != nil {
			log.Debug().Err(werr).Str("turnId", t.ID).Msg("chat stream write failed")
		}
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("turnId", t.ID).
			Str("conversationId", t.input.ConversationID).
			Msg("chat turn failed")
		_ = w.Write(stream.ErrorFrame(apperrors.DownstreamFailure(err).Message))
	}
}
