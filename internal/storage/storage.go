// Package storage persists the audit trail of token actions.
package storage

import (
	"context"
	"time"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

// ActionRecord is the audit entry for one action attempt. Credentials and
// challenge responses are never stored.
type ActionRecord struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Action    string    `db:"action" json:"action"`
	AssetType string    `db:"asset_type" json:"assetType,omitempty"`
	TxHash    string    `db:"tx_hash" json:"transactionHash,omitempty"`
	Status    string    `db:"status" json:"status"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Apply folds a pipeline event into the record.
func (r *ActionRecord) Apply(ev pipeline.Event) {
	r.Status = string(ev.Status)
	if ev.TransactionHash != "" {
		r.TxHash = ev.TransactionHash
	}
	r.Reason = string(ev.Reason)
}

// Repository persists action records.
type Repository interface {
	Create(ctx context.Context, rec ActionRecord) (ActionRecord, error)
	Update(ctx context.Context, rec ActionRecord) (ActionRecord, error)
	Get(ctx context.Context, id string) (ActionRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]ActionRecord, error)
}

// DefaultListLimit caps ListByUser when no positive limit is given.
const DefaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}

func notFound(id string) error {
	return apperrors.NotFound("action", id)
}
