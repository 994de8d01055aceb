package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

// Client reads receipts from an EVM node when the transaction service is not
// the source of truth for receipts.
type Client struct {
	eth *ethclient.Client
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates a JSON-RPC client. HTTP endpoints are not contacted until
// the first call.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rpcClient, err := rpc.DialOptions(context.Background(), cfg.RPCURL,
		rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	return &Client{eth: ethclient.NewClient(rpcClient)}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// BlockNumber returns the current block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return n, nil
}

// GetReceipt returns the receipt for a mined transaction, or ErrReceiptNotFound
// while the transaction is pending.
func (c *Client) GetReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, classifyRPCError(err)
	}

	receipt := &Receipt{
		TransactionHash: r.TxHash,
		Status:          ReceiptReverted,
	}
	if r.Status == types.ReceiptStatusSuccessful {
		receipt.Status = ReceiptSuccess
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.ContractAddress != (common.Address{}) {
		addr := r.ContractAddress
		receipt.ContractAddress = &addr
	}
	return receipt, nil
}

// classifyRPCError reports node-side rejections as INTERNAL and everything
// that failed on the way to the node as TRANSPORT.
func classifyRPCError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return apperrors.Wrap(apperrors.CodeInternal, "node rejected request", err).
			WithDetails("rpc_code", rpcErr.ErrorCode())
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
		return apperrors.Wrap(apperrors.CodeInternal, "node rejected request", err).
			WithDetails("http_status", httpErr.StatusCode)
	}
	return apperrors.Transport("chain", err)
}
