package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// Postgres is a Repository backed by PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

var _ Repository = (*Postgres)(nil)

// NewPostgres wraps an open database handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to connect to database", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (p *Postgres) Create(ctx context.Context, rec ActionRecord) (ActionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO token_actions (id, user_id, action, asset_type, tx_hash, status, reason, created_at, updated_at)
		VALUES (:id, :user_id, :action, :asset_type, :tx_hash, :status, :reason, :created_at, :updated_at)
	`, rec)
	if err != nil {
		return ActionRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) Update(ctx context.Context, rec ActionRecord) (ActionRecord, error) {
	rec.UpdatedAt = time.Now().UTC()

	result, err := p.db.ExecContext(ctx, `
		UPDATE token_actions
		SET tx_hash = $2, status = $3, reason = $4, updated_at = $5
		WHERE id = $1
	`, rec.ID, rec.TxHash, rec.Status, rec.Reason, rec.UpdatedAt)
	if err != nil {
		return ActionRecord{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ActionRecord{}, notFound(rec.ID)
	}
	return p.Get(ctx, rec.ID)
}

func (p *Postgres) Get(ctx context.Context, id string) (ActionRecord, error) {
	var rec ActionRecord
	err := p.db.GetContext(ctx, &rec, `
		SELECT id, user_id, action, asset_type, tx_hash, status, reason, created_at, updated_at
		FROM token_actions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ActionRecord{}, notFound(id)
	}
	if err != nil {
		return ActionRecord{}, err
	}
	return rec, nil
}

// ListByUser returns the user's records, newest first.
func (p *Postgres) ListByUser(ctx context.Context, userID string, limit int) ([]ActionRecord, error) {
	var out []ActionRecord
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, user_id, action, asset_type, tx_hash, status, reason, created_at, updated_at
		FROM token_actions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return out, nil
}
