package repository

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/openclaw/channel-router/internal/model"
)

type DeviceLinkRepository interface {
	// Upsert links a phone to a user in one statement. An existing link for
	// the same phone is overwritten, so the last link wins.
	Upsert(ctx context.Context, params model.UpsertDeviceParams) (*model.DeviceLink, error)
	FindByPhone(ctx context.Context, phone string) (*model.DeviceLink, error)
	FindByID(ctx context.Context, id string) (*model.DeviceLink, error)
	List(ctx context.Context, filter model.DeviceFilter) ([]model.DeviceLink, error)
	Count(ctx context.Context, filter model.DeviceFilter) (int, error)
	Touch(ctx context.Context, phone, conversationID string) error
	Delete(ctx context.Context, id string) (bool, error)
	WithTx(tx *sqlx.Tx) DeviceLinkRepository
}

// upsertDeviceLinkQuery stamps linked_at and last_seen_at on insert and relink alike.
const upsertDeviceLinkQuery = `
	INSERT INTO device_links (user_id, phone, label, linked_at, updated_at, last_seen_at)
	VALUES ($1, $2, $3, NOW(), NOW(), NOW())
	ON CONFLICT (phone) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		label = COALESCE(EXCLUDED.label, device_links.label),
		linked_at = NOW(),
		updated_at = NOW(),
		last_seen_at = NOW(),
		last_conversation_id = CASE
			WHEN device_links.user_id = EXCLUDED.user_id THEN device_links.last_conversation_id
			ELSE NULL
		END
	RETURNING *
`

type deviceLinkRepo struct {
	db sqlxDB
}

func NewDeviceLinkRepository(db *sqlx.DB) DeviceLinkRepository {
	return &deviceLinkRepo{db: db}
}

func (r *deviceLinkRepo) WithTx(tx *sqlx.Tx) DeviceLinkRepository {
	return &deviceLinkRepo{db: tx}
}

func (r *deviceLinkRepo) Upsert(ctx context.Context, params model.UpsertDeviceParams) (*model.DeviceLink, error) {
	var d model.DeviceLink
	err := r.db.GetContext(ctx, &d, upsertDeviceLinkQuery, params.UserID, params.Phone, params.Label)
	if err != nil {
		return nil, fmt.Errorf("upsert device link: %w", err)
	}
	return &d, nil
}

func (r *deviceLinkRepo) FindByPhone(ctx context.Context, phone string) (*model.DeviceLink, error) {
	var d model.DeviceLink
	err := r.db.GetContext(ctx, &d, `SELECT * FROM device_links WHERE phone = $1`, phone)
	return HandleNotFound(&d, err)
}

func (r *deviceLinkRepo) FindByID(ctx context.Context, id string) (*model.DeviceLink, error) {
	var d model.DeviceLink
	err := r.db.GetContext(ctx, &d, `SELECT * FROM device_links WHERE id = $1`, id)
	return HandleNotFound(&d, err)
}

func (r *deviceLinkRepo) List(ctx context.Context, filter model.DeviceFilter) ([]model.DeviceLink, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From("device_links")
	sb.Where(sb.Equal("user_id", filter.UserID))
	sb.OrderBy("linked_at DESC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	var devices []model.DeviceLink
	if err := r.db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, fmt.Errorf("list device links: %w", err)
	}
	return devices, nil
}

func (r *deviceLinkRepo) Count(ctx context.Context, filter model.DeviceFilter) (int, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("device_links")
	sb.Where(sb.Equal("user_id", filter.UserID))

	query, args := sb.Build()
	var count int
	err := r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

func (r *deviceLinkRepo) Touch(ctx context.Context, phone, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_links SET
			last_seen_at = NOW(),
			last_conversation_id = $2
		WHERE phone = $1
	`, phone, conversationID)
	return err
}

func (r *deviceLinkRepo) Delete(ctx context.Context, id string) (bool, error) {
	return changed(r.db.ExecContext(ctx, `DELETE FROM device_links WHERE id = $1`, id))
}
