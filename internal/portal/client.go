// Package portal is the client for the transaction-execution service ("Portal").
// The Portal holds the user wallets, issues verification challenges, and
// broadcasts contract calls. It speaks GraphQL.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
)

const serviceName = "portal"

// Config configures the Portal client.
type Config struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
}

// Client calls the Portal GraphQL API.
type Client struct {
	svc *httputil.ServiceClient
}

// New creates a Portal client. The URL is the GraphQL endpoint.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("portal URL required")
	}
	return &Client{
		svc: httputil.NewServiceClient(httputil.ServiceClientConfig{
			Service:     serviceName,
			AccessToken: cfg.AccessToken,
			BaseURL:     cfg.URL,
			Timeout:     cfg.Timeout,
			// Retries are owned by the pipeline so the retry budget stays at one.
			MaxRetries: -1,
		}),
	}, nil
}

func (c *Client) query(ctx context.Context, query string, vars map[string]interface{}) (gjson.Result, error) {
	return c.svc.GraphQL(ctx, "", query, vars)
}

// =============================================================================
// Verification challenges
// =============================================================================

// Challenge is a network-issued verification challenge.
type Challenge struct {
	ID     string
	Salt   string
	Secret string
}

const createChallengeMutation = `mutation CreateVerificationChallenge($userWalletAddress: String!, $verificationId: String!) {
  createWalletVerificationChallenge(userWalletAddress: $userWalletAddress, verificationId: $verificationId) {
    id
    challenge
  }
}`

// CreateVerificationChallenge asks the Portal for a challenge bound to the
// wallet's verification method.
func (c *Client) CreateVerificationChallenge(ctx context.Context, wallet common.Address, verificationID string) (*Challenge, error) {
	data, err := c.query(ctx, createChallengeMutation, map[string]interface{}{
		"userWalletAddress": wallet.Hex(),
		"verificationId":    verificationID,
	})
	if err != nil {
		return nil, classifyVerificationError(err)
	}

	node := data.Get("createWalletVerificationChallenge")
	if !node.Exists() || node.Get("id").String() == "" {
		return nil, apperrors.VerificationNotConfigured(verificationID)
	}

	// The challenge payload is either an object or a JSON-encoded string.
	payload := node.Get("challenge")
	if payload.Type == gjson.String {
		payload = gjson.Parse(payload.String())
	}

	return &Challenge{
		ID:     node.Get("id").String(),
		Salt:   payload.Get("salt").String(),
		Secret: payload.Get("secret").String(),
	}, nil
}

const verifyChallengeMutation = `mutation VerifyChallenge($challengeId: String!, $challengeResponse: String!) {
  verifyWalletVerificationChallengeById(challengeId: $challengeId, challengeResponse: $challengeResponse) {
    verified
  }
}`

// VerifyChallenge checks a challenge response. A wrong response returns false, nil.
func (c *Client) VerifyChallenge(ctx context.Context, challengeID, response string) (bool, error) {
	data, err := c.query(ctx, verifyChallengeMutation, map[string]interface{}{
		"challengeId":       challengeID,
		"challengeResponse": response,
	})
	if err != nil {
		return false, classifyVerificationError(err)
	}
	return data.Get("verifyWalletVerificationChallengeById.verified").Bool(), nil
}

const deleteVerificationMutation = `mutation DeleteVerification($userWalletAddress: String!, $verificationId: String!, $challengeId: String, $challengeResponse: String!) {
  deleteWalletVerification(userWalletAddress: $userWalletAddress, verificationId: $verificationId, challengeId: $challengeId, challengeResponse: $challengeResponse) {
    success
  }
}`

// DeleteVerification removes a verification method. The caller proves
// possession with a verified challenge response.
func (c *Client) DeleteVerification(ctx context.Context, wallet common.Address, verificationID, challengeID, response string) error {
	data, err := c.query(ctx, deleteVerificationMutation, map[string]interface{}{
		"userWalletAddress": wallet.Hex(),
		"verificationId":    verificationID,
		"challengeId":       challengeID,
		"challengeResponse": response,
	})
	if err != nil {
		return classifyVerificationError(err)
	}
	if !data.Get("deleteWalletVerification.success").Bool() {
		return apperrors.Newf(apperrors.CodeInternal, "verification %s was not deleted", verificationID)
	}
	return nil
}

// classifyVerificationError maps Portal verification errors onto the
// authentication error codes. Transport errors pass through.
func classifyVerificationError(err error) error {
	var gqlErr *httputil.GraphQLError
	if !errors.As(err, &gqlErr) {
		return err
	}

	msg := strings.ToLower(gqlErr.Message + " " + gqlErr.Code)
	switch {
	case strings.Contains(msg, "expired"):
		return apperrors.ExpiredChallenge(err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no verification"), strings.Contains(msg, "not configured"):
		return apperrors.Wrap(apperrors.CodeVerificationNotConfigured, "verification method not configured", err)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "incorrect"):
		return apperrors.InvalidCredential(err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "portal rejected request", err)
	}
}

// =============================================================================
// Transactions
// =============================================================================

// classifySubmissionError maps a rejected submission. Only errors that name
// the challenge or verification are authentication failures.
func classifySubmissionError(err error) error {
	var gqlErr *httputil.GraphQLError
	if !errors.As(err, &gqlErr) {
		return err
	}

	msg := strings.ToLower(gqlErr.Message + " " + gqlErr.Code)
	switch {
	case strings.Contains(msg, "revert"):
		reason := gqlErr.Message
		if i := strings.Index(strings.ToLower(reason), "reverted:"); i >= 0 {
			reason = strings.TrimSpace(reason[i+len("reverted:"):])
		}
		return apperrors.Wrap(apperrors.CodeTransactionReverted, "transaction reverted: "+reason, err).
			WithDetails("revert_reason", reason)
	case strings.Contains(msg, "challenge"), strings.Contains(msg, "verification"):
		return classifyVerificationError(err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "portal rejected transaction", err)
	}
}

// Submission is a contract call together with its challenge response.
type Submission struct {
	Address           common.Address
	From              common.Address
	Function          string
	Args              map[string]interface{}
	ChallengeID       string
	ChallengeResponse string
}

// SubmitMutation broadcasts a contract call and returns its transaction hash.
func (c *Client) SubmitMutation(ctx context.Context, sub Submission) (common.Hash, error) {
	if !isGraphQLName(sub.Function) {
		return common.Hash{}, apperrors.Newf(apperrors.CodeInvalidInput, "invalid function name %q", sub.Function)
	}

	mutation := fmt.Sprintf(`mutation Submit($address: String!, $from: String!, $input: JSON!, $challengeId: String, $challengeResponse: String!) {
  %s(address: $address, from: $from, input: $input, challengeId: $challengeId, challengeResponse: $challengeResponse) {
    transactionHash
  }
}`, sub.Function)

	vars := map[string]interface{}{
		"address":           sub.Address.Hex(),
		"from":              sub.From.Hex(),
		"input":             sub.Args,
		"challengeResponse": sub.ChallengeResponse,
	}
	if sub.ChallengeID != "" {
		vars["challengeId"] = sub.ChallengeID
	}

	data, err := c.query(ctx, mutation, vars)
	if err != nil {
		return common.Hash{}, classifySubmissionError(err)
	}

	hash, err := chain.ParseHash(data.Get(sub.Function + ".transactionHash").String())
	if err != nil {
		return common.Hash{}, apperrors.Wrap(apperrors.CodeInternal, "portal returned no transaction hash", err)
	}
	return hash, nil
}

const getTransactionQuery = `query GetTransaction($transactionHash: String!) {
  getTransaction(transactionHash: $transactionHash) {
    receipt {
      status
      blockNumber
      contractAddress
      revertReasonDecoded
    }
  }
}`

// GetReceipt returns the mined receipt, or chain.ErrReceiptNotFound while pending.
func (c *Client) GetReceipt(ctx context.Context, txHash common.Hash) (*chain.Receipt, error) {
	data, err := c.query(ctx, getTransactionQuery, map[string]interface{}{
		"transactionHash": txHash.Hex(),
	})
	if err != nil {
		var gqlErr *httputil.GraphQLError
		if errors.As(err, &gqlErr) && strings.Contains(strings.ToLower(gqlErr.Message), "not found") {
			return nil, chain.ErrReceiptNotFound
		}
		return nil, err
	}

	raw := data.Get("getTransaction.receipt")
	if !raw.Exists() || raw.Type == gjson.Null {
		return nil, chain.ErrReceiptNotFound
	}

	receipt := &chain.Receipt{
		TransactionHash: txHash,
		Status:          chain.ParseReceiptStatus(raw.Get("status").String()),
		BlockNumber:     raw.Get("blockNumber").Uint(),
		RevertReason:    raw.Get("revertReasonDecoded").String(),
	}
	if addr := raw.Get("contractAddress").String(); common.IsHexAddress(addr) {
		a := common.HexToAddress(addr)
		if a != (common.Address{}) {
			receipt.ContractAddress = &a
		}
	}
	return receipt, nil
}

func isGraphQLName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
