// Package status classifies transactions for clients from pipeline
// observations, falling back to polling the receipt source and indexer.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

// Phase is the on-chain classification of a transaction.
type Phase string

const (
	Pending   Phase = "pending"
	Confirmed Phase = "confirmed"
	Failed    Phase = "failed"
)

// Indexing is the indexer catch-up state of a confirmed transaction.
type Indexing string

const (
	IndexingNone    Indexing = ""
	IndexingPending Indexing = "pending"
	IndexingSuccess Indexing = "success"
	IndexingTimeout Indexing = "timeout"
)

// Status is a transaction classification.
type Status struct {
	TransactionHash string              `json:"transactionHash"`
	Phase           Phase               `json:"phase"`
	Reason          apperrors.ErrorCode `json:"reason,omitempty"`
	RevertReason    string              `json:"revertReason,omitempty"`
	Indexing        Indexing            `json:"indexing,omitempty"`
	BlockNumber     uint64              `json:"blockNumber,omitempty"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Terminal reports whether the on-chain classification can no longer change.
func (s Status) Terminal() bool {
	return s.Phase == Confirmed || s.Phase == Failed
}

// Settled reports whether nothing about s can change any more.
func (s Status) Settled() bool {
	return s.Terminal() && s.Indexing != IndexingPending
}

// Severity mirrors pipeline event severity.
func (s Status) Severity() pipeline.Severity {
	switch {
	case s.Phase == Failed:
		return pipeline.SeverityError
	case s.Indexing == IndexingTimeout:
		return pipeline.SeverityWarning
	default:
		return pipeline.SeverityInfo
	}
}

// HeadSource reports the indexer head block.
type HeadSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
}

// Tracker keeps the latest observation per transaction hash. It is safe for
// concurrent use.
type Tracker struct {
	receipts chain.ReceiptSource
	heads    HeadSource

	mu      sync.RWMutex
	entries map[common.Hash]Status
	now     func() time.Time
}

// NewTracker creates a tracker. heads may be nil.
func NewTracker(receipts chain.ReceiptSource, heads HeadSource) *Tracker {
	return &Tracker{
		receipts: receipts,
		heads:    heads,
		entries:  make(map[common.Hash]Status),
		now:      time.Now,
	}
}

// Observe records a pipeline event. Events without a transaction hash are ignored.
func (t *Tracker) Observe(ev pipeline.Event) {
	if ev.TransactionHash == "" {
		return
	}
	hash := common.HexToHash(ev.TransactionHash)

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.entries[hash]
	if st.Settled() {
		return
	}
	st.TransactionHash = hash.Hex()

	switch ev.Status {
	case pipeline.PhaseSubmitting, pipeline.PhasePending:
		if st.Terminal() {
			return
		}
		st.Phase = Pending
	case pipeline.PhaseConfirmed:
		st.Phase = Confirmed
		// A non-final confirmation is followed by the indexing phases.
		if !ev.Final && st.Indexing == IndexingNone {
			st.Indexing = IndexingPending
		}
	case pipeline.PhaseFailed:
		st.Phase = Failed
		st.Reason = ev.Reason
	case pipeline.PhaseIndexingPending:
		st.Phase = Confirmed
		st.Indexing = IndexingPending
	case pipeline.PhaseIndexingSuccess:
		st.Phase = Confirmed
		st.Indexing = IndexingSuccess
	case pipeline.PhaseIndexingTimeout:
		st.Phase = Confirmed
		st.Indexing = IndexingTimeout
	default:
		return
	}
	if ev.Result != nil {
		if ev.Result.BlockNumber != 0 {
			st.BlockNumber = ev.Result.BlockNumber
		}
		if ev.Result.RevertReason != "" {
			st.RevertReason = ev.Result.RevertReason
		}
	}
	st.UpdatedAt = t.now()
	t.entries[hash] = st
}

// Classify returns the current status of hash. Settled observations are
// returned as-is; otherwise the receipt source and indexer are consulted.
func (t *Tracker) Classify(ctx context.Context, hash common.Hash) (Status, error) {
	t.mu.RLock()
	st, known := t.entries[hash]
	t.mu.RUnlock()

	if known && st.Settled() {
		return st, nil
	}

	if !known || !st.Terminal() {
		next, err := t.pollReceipt(ctx, hash)
		if err != nil {
			return Status{}, err
		}
		next.Indexing = st.Indexing
		st = next
	}

	if st.Phase == Confirmed && st.Indexing == IndexingPending && t.heads != nil {
		head, err := t.heads.HeadBlock(ctx)
		if err != nil {
			return Status{}, err
		}
		if head >= st.BlockNumber {
			st.Indexing = IndexingSuccess
		}
	}

	return t.store(hash, st), nil
}

func (t *Tracker) pollReceipt(ctx context.Context, hash common.Hash) (Status, error) {
	st := Status{TransactionHash: hash.Hex(), Phase: Pending}

	receipt, err := t.receipts.GetReceipt(ctx, hash)
	switch {
	case apperrors.HasCode(err, apperrors.CodeNotFound):
		return st, nil
	case err != nil:
		return Status{}, err
	}

	st.BlockNumber = receipt.BlockNumber
	if receipt.Succeeded() {
		st.Phase = Confirmed
		return st, nil
	}
	st.Phase = Failed
	st.Reason = apperrors.CodeTransactionReverted
	st.RevertReason = receipt.RevertReason
	return st, nil
}

// store saves st unless a concurrent observation already settled the hash.
func (t *Tracker) store(hash common.Hash, st Status) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[hash]; ok && cur.Settled() {
		return cur
	}
	st.UpdatedAt = t.now()
	t.entries[hash] = st
	return st
}

// Prune drops observations not updated within olderThan and returns how many
// were removed.
func (t *Tracker) Prune(olderThan time.Duration) int {
	cutoff := t.now().Add(-olderThan)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for hash, st := range t.entries {
		if st.UpdatedAt.Before(cutoff) {
			delete(t.entries, hash)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked transactions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
