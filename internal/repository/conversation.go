package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/channel-router/internal/model"
)

type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	FindLatestByLabel(ctx context.Context, userID, sessionLabel string) (*model.Conversation, error)
	Create(ctx context.Context, params model.CreateConversationParams) (*model.Conversation, error)
	TouchLastMessage(ctx context.Context, id string) error
}

type conversationRepo struct {
	db sqlxDB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `SELECT * FROM conversations WHERE id = $1`, id)
	return HandleNotFound(&c, err)
}

func (r *conversationRepo) FindLatestByLabel(ctx context.Context, userID, sessionLabel string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `
		SELECT * FROM conversations
		WHERE user_id = $1 AND session_label = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID, sessionLabel)
	return HandleNotFound(&c, err)
}

func (r *conversationRepo) Create(ctx context.Context, params model.CreateConversationParams) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `
		INSERT INTO conversations (user_id, session_label, title)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.UserID, params.SessionLabel, params.Title)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &c, nil
}

func (r *conversationRepo) TouchLastMessage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}
