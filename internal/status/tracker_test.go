package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

var hash = common.HexToHash("0xbeef")

type stubReceipts struct {
	calls   int
	receipt *chain.Receipt
	err     error
}

func (s *stubReceipts) GetReceipt(ctx context.Context, h common.Hash) (*chain.Receipt, error) {
	s.calls++
	return s.receipt, s.err
}

type stubHeads struct {
	head uint64
}

func (s *stubHeads) HeadBlock(ctx context.Context) (uint64, error) {
	return s.head, nil
}

func TestClassifyPending(t *testing.T) {
	receipts := &stubReceipts{err: chain.ErrReceiptNotFound}
	tr := NewTracker(receipts, nil)

	st, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Pending, st.Phase)
	assert.False(t, st.Terminal())
	assert.Equal(t, pipeline.SeverityInfo, st.Severity())
}

func TestClassifyIsIdempotentOnceTerminal(t *testing.T) {
	receipts := &stubReceipts{receipt: &chain.Receipt{Status: chain.ReceiptReverted, BlockNumber: 5, RevertReason: "paused"}}
	tr := NewTracker(receipts, nil)

	first, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Failed, first.Phase)
	assert.Equal(t, apperrors.CodeTransactionReverted, first.Reason)
	assert.Equal(t, "paused", first.RevertReason)
	assert.Equal(t, pipeline.SeverityError, first.Severity())

	receipts.receipt = &chain.Receipt{Status: chain.ReceiptSuccess, BlockNumber: 5}
	for i := 0; i < 3; i++ {
		again, err := tr.Classify(context.Background(), hash)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, receipts.calls)
}

func TestClassifyTransportError(t *testing.T) {
	tr := NewTracker(&stubReceipts{err: apperrors.Transport("portal", errors.New("down"))}, nil)
	_, err := tr.Classify(context.Background(), hash)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Zero(t, tr.Len())
}

func TestObserveFollowsPipeline(t *testing.T) {
	receipts := &stubReceipts{}
	tr := NewTracker(receipts, nil)
	tx := hash.Hex()

	tr.Observe(pipeline.Event{Status: pipeline.PhasePreparing})
	assert.Zero(t, tr.Len())

	tr.Observe(pipeline.Event{Status: pipeline.PhasePending, TransactionHash: tx})
	tr.Observe(pipeline.Event{Status: pipeline.PhaseConfirmed, TransactionHash: tx, Result: &pipeline.Result{BlockNumber: 9}})
	tr.Observe(pipeline.Event{Status: pipeline.PhaseIndexingPending, TransactionHash: tx})
	tr.Observe(pipeline.Event{Status: pipeline.PhaseIndexingTimeout, TransactionHash: tx})

	st, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, st.Phase)
	assert.Equal(t, IndexingTimeout, st.Indexing)
	assert.Equal(t, uint64(9), st.BlockNumber)
	assert.Equal(t, pipeline.SeverityWarning, st.Severity())
	assert.Zero(t, receipts.calls)

	tr.Observe(pipeline.Event{Status: pipeline.PhasePending, TransactionHash: tx})
	again, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestObserveFinalConfirmationSettles(t *testing.T) {
	receipts := &stubReceipts{}
	tr := NewTracker(receipts, nil)
	tx := hash.Hex()

	tr.Observe(pipeline.Event{Status: pipeline.PhaseConfirmed, TransactionHash: tx, Final: true, Result: &pipeline.Result{BlockNumber: 4}})
	tr.Observe(pipeline.Event{Status: pipeline.PhaseIndexingTimeout, TransactionHash: tx})

	st, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, st.Phase)
	assert.Equal(t, IndexingNone, st.Indexing)
	assert.True(t, st.Settled())
	assert.Equal(t, pipeline.SeverityInfo, st.Severity())
	assert.Zero(t, receipts.calls)
}

func TestClassifyPollsIndexerWhilePending(t *testing.T) {
	heads := &stubHeads{head: 8}
	tr := NewTracker(&stubReceipts{}, heads)
	tx := hash.Hex()

	tr.Observe(pipeline.Event{Status: pipeline.PhaseIndexingPending, TransactionHash: tx, Result: &pipeline.Result{BlockNumber: 10}})

	st, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, IndexingPending, st.Indexing)

	heads.head = 10
	st, err = tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, st.Phase)
	assert.Equal(t, IndexingSuccess, st.Indexing)
	assert.True(t, st.Settled())
}

func TestObserveFailure(t *testing.T) {
	tr := NewTracker(&stubReceipts{}, nil)
	tr.Observe(pipeline.Event{
		Status:          pipeline.PhaseFailed,
		TransactionHash: hash.Hex(),
		Reason:          apperrors.CodeReceiptTimeout,
	})

	st, err := tr.Classify(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, apperrors.CodeReceiptTimeout, st.Reason)
}

func TestPrune(t *testing.T) {
	tr := NewTracker(&stubReceipts{}, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	tr.Observe(pipeline.Event{Status: pipeline.PhaseConfirmed, TransactionHash: common.HexToHash("0x01").Hex()})
	tr.now = func() time.Time { return base.Add(time.Hour) }
	tr.Observe(pipeline.Event{Status: pipeline.PhaseConfirmed, TransactionHash: common.HexToHash("0x02").Hex()})

	assert.Equal(t, 1, tr.Prune(30*time.Minute))
	assert.Equal(t, 1, tr.Len())
}
