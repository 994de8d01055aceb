package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// DefaultTxWaitTimeout is the default timeout for waiting for a mined receipt.
const DefaultTxWaitTimeout = 2 * time.Minute

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = 2 * time.Second

// ReceiptSource returns receipts by transaction hash. Both the transaction
// service client and the JSON-RPC Client implement it.
type ReceiptSource interface {
	GetReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)
}

// WaitForReceipt polls src until a receipt is available or ctx is done.
// A missing receipt is treated as pending and retried. Other errors are returned
// to the caller, which decides whether they are retryable.
func WaitForReceipt(ctx context.Context, src ReceiptSource, txHash common.Hash, pollInterval time.Duration) (*Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := src.GetReceipt(ctx, txHash)
		switch {
		case err == nil:
			return receipt, nil
		case apperrors.HasCode(err, apperrors.CodeNotFound):
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
