package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

var columns = []string{"id", "user_id", "action", "asset_type", "tx_hash", "status", "reason", "created_at", "updated_at"}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	rec, err := repo.Create(ctx, ActionRecord{UserID: "u1", Action: "create-bond", AssetType: "bond", Status: "preparing"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	rec.Apply(pipeline.Event{Status: pipeline.PhasePending, TransactionHash: "0xabc"})
	rec.Apply(pipeline.Event{Status: pipeline.PhaseFailed, Reason: apperrors.CodeTransactionReverted})
	rec.UserID = "someone-else"
	updated, err := repo.Update(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "u1", updated.UserID)
	assert.Equal(t, "0xabc", updated.TxHash)
	assert.Equal(t, "failed", updated.Status)
	assert.Equal(t, "TRANSACTION_REVERTED", updated.Reason)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, err = repo.Create(ctx, ActionRecord{ID: rec.ID, UserID: "u1"})
	assert.Error(t, err)

	_, err = repo.Get(ctx, "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	_, err = repo.Update(ctx, ActionRecord{ID: "missing"})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestMemoryListByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, ActionRecord{UserID: "u1", Action: "mint", Status: "confirmed"})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, ActionRecord{UserID: "u2", Action: "burn", Status: "confirmed"})
	require.NoError(t, err)

	all, err := repo.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
	}

	limited, err := repo.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func newMockRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO token_actions").
		WithArgs("a-1", "u1", "mint", "", "", "preparing", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := repo.Create(context.Background(), ActionRecord{ID: "a-1", UserID: "u1", Action: "mint", Status: "preparing"})
	require.NoError(t, err)
	assert.Equal(t, "a-1", rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM token_actions").
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a-1", "u1", "create-fund", "fund", "0xfeed", "confirmed", "", now, now))

	rec, err := repo.Get(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, "fund", rec.AssetType)
	assert.Equal(t, "0xfeed", rec.TxHash)
	assert.True(t, now.Equal(rec.CreatedAt))

	mock.ExpectQuery("SELECT (.+) FROM token_actions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.Get(context.Background(), "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE token_actions").
		WithArgs("a-9", "0x01", "pending", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.Update(context.Background(), ActionRecord{ID: "a-9", TxHash: "0x01", Status: "pending"})
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListByUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM token_actions WHERE user_id").
		WithArgs("u1", DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("a-2", "u1", "burn", "", "0x02", "confirmed", "", now, now).
			AddRow("a-1", "u1", "mint", "", "0x01", "failed", "RECEIPT_TIMEOUT", now, now))

	out, err := repo.ListByUser(context.Background(), "u1", 500)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a-2", out[0].ID)
	assert.Equal(t, "RECEIPT_TIMEOUT", out[1].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
