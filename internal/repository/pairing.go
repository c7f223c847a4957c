package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/openclaw/channel-router/internal/model"
)

type PairingCodeRepository interface {
	// SweepExpired moves every pending code past its deadline to expired.
	SweepExpired(ctx context.Context) (int64, error)
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	FindByID(ctx context.Context, id string) (*model.PairingCode, error)
	// FindLatestByCode returns the newest row holding code in any status.
	FindLatestByCode(ctx context.Context, code string) (*model.PairingCode, error)
	ExistsActiveCode(ctx context.Context, code string) (bool, error)
	// MarkLinked binds a pending code to a phone. It reports false when the
	// code was no longer pending, which makes it the only gate against
	// double consumption.
	MarkLinked(ctx context.Context, id, phone, messageSID string) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter model.PairingFilter) ([]model.PairingCode, error)
	Count(ctx context.Context, filter model.PairingFilter) (int, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) PairingCodeRepository
}

type pairingCodeRepo struct {
	db sqlxDB
}

func NewPairingCodeRepository(db *sqlx.DB) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) WithTx(tx *sqlx.Tx) PairingCodeRepository {
	return &pairingCodeRepo{db: tx}
}

func (r *pairingCodeRepo) SweepExpired(ctx context.Context) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= NOW()
	`))
}

func (r *pairingCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		INSERT INTO pairing_codes (user_id, code, command, label, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.UserID, params.Code, params.Command, params.Label, params.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert pairing code: %w", err)
	}
	return &pc, nil
}

func (r *pairingCodeRepo) FindByID(ctx context.Context, id string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `SELECT * FROM pairing_codes WHERE id = $1`, id)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindLatestByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) ExistsActiveCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM pairing_codes
			WHERE code = $1 AND status <> 'expired'
		)
	`, code)
	return exists, err
}

func (r *pairingCodeRepo) MarkLinked(ctx context.Context, id, phone, messageSID string) (bool, error) {
	var sid *string
	if messageSID != "" {
		sid = &messageSID
	}
	return changed(r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET
			status = 'linked',
			bound_phone = $2,
			linked_at = NOW(),
			consumed_message_sid = $3
		WHERE id = $1 AND status = 'pending' AND expires_at > NOW()
	`, id, phone, sid))
}

func (r *pairingCodeRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	return changed(r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'expired'
		WHERE id = $1 AND status = 'pending'
	`, id))
}

func (r *pairingCodeRepo) Cancel(ctx context.Context, id string) (bool, error) {
	return changed(r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'canceled'
		WHERE id = $1 AND status = 'pending'
	`, id))
}

func pairingWhere(sb *sqlbuilder.SelectBuilder, filter model.PairingFilter) []string {
	where := []string{sb.Equal("user_id", filter.UserID)}
	if filter.Status != nil {
		where = append(where, sb.Equal("status", string(*filter.Status)))
	}
	return where
}

func buildPairingListQuery(filter model.PairingFilter) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From("pairing_codes")
	sb.Where(pairingWhere(sb, filter)...)
	sb.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
	return sb.Build()
}

func buildPairingCountQuery(filter model.PairingFilter) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("pairing_codes")
	sb.Where(pairingWhere(sb, filter)...)
	return sb.Build()
}

func (r *pairingCodeRepo) List(ctx context.Context, filter model.PairingFilter) ([]model.PairingCode, error) {
	query, args := buildPairingListQuery(filter)
	var codes []model.PairingCode
	if err := r.db.SelectContext(ctx, &codes, query, args...); err != nil {
		return nil, fmt.Errorf("list pairing codes: %w", err)
	}
	return codes, nil
}

func (r *pairingCodeRepo) Count(ctx context.Context, filter model.PairingFilter) (int, error) {
	query, args := buildPairingCountQuery(filter)
	var count int
	err := r.db.GetContext(ctx, &count, query, args...)
	return count, err
}

func (r *pairingCodeRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes
		WHERE status IN ('expired', 'canceled') AND created_at < $1
	`, before))
}
