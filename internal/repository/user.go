package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/util"
)

type UserRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
}

type userRepo struct {
	db sqlxDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

// Exists reports whether id names a live account. Malformed ids never exist.
func (r *userRepo) Exists(ctx context.Context, id string) (bool, error) {
	if !util.IsValidUUID(id) {
		return false, nil
	}
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND deleted_at IS NULL)
	`, id)
	return exists, err
}

func (r *userRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT * FROM users
		WHERE api_token_hash = $1 AND deleted_at IS NULL
	`, tokenHash)
	return HandleNotFound(&u, err)
}
