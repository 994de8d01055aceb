package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
)

var wallet = common.HexToAddress("0x3000000000000000000000000000000000000003")

// fakePortal answers GraphQL requests with the body returned by respond.
func fakePortal(t *testing.T, respond func(req httputil.GraphQLRequest) string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var req httputil.GraphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(req)))
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{URL: server.URL, AccessToken: "token"})
	require.NoError(t, err)
	return client
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCreateVerificationChallenge(t *testing.T) {
	client := fakePortal(t, func(req httputil.GraphQLRequest) string {
		assert.Contains(t, req.Query, "createWalletVerificationChallenge")
		assert.Equal(t, wallet.Hex(), req.Variables["userWalletAddress"])
		assert.Equal(t, "pin-1", req.Variables["verificationId"])
		return `{"data":{"createWalletVerificationChallenge":{"id":"ch-1","challenge":{"salt":"s4lt","secret":"s3cret"}}}}`
	})

	ch, err := client.CreateVerificationChallenge(context.Background(), wallet, "pin-1")
	require.NoError(t, err)
	assert.Equal(t, &Challenge{ID: "ch-1", Salt: "s4lt", Secret: "s3cret"}, ch)
}

func TestCreateVerificationChallengeStringPayload(t *testing.T) {
	client := fakePortal(t, func(httputil.GraphQLRequest) string {
		return `{"data":{"createWalletVerificationChallenge":{"id":"ch-2","challenge":"{\"salt\":\"a\",\"secret\":\"b\"}"}}}`
	})

	ch, err := client.CreateVerificationChallenge(context.Background(), wallet, "pin-1")
	require.NoError(t, err)
	assert.Equal(t, "a", ch.Salt)
	assert.Equal(t, "b", ch.Secret)
}

func TestVerificationErrorMapping(t *testing.T) {
	cases := map[string]apperrors.ErrorCode{
		"Challenge has expired":         apperrors.CodeExpiredChallenge,
		"Verification not found":        apperrors.CodeVerificationNotConfigured,
		"Invalid challenge response":    apperrors.CodeInvalidCredential,
		"something unexpected happened": apperrors.CodeInternal,
	}
	for message, want := range cases {
		t.Run(message, func(t *testing.T) {
			client := fakePortal(t, func(httputil.GraphQLRequest) string {
				return `{"errors":[{"message":"` + message + `"}]}`
			})
			_, err := client.VerifyChallenge(context.Background(), "ch-1", "resp")
			assert.Equal(t, want, apperrors.CodeOf(err))
		})
	}
}

func TestVerifyChallenge(t *testing.T) {
	client := fakePortal(t, func(req httputil.GraphQLRequest) string {
		if req.Variables["challengeResponse"] == "good" {
			return `{"data":{"verifyWalletVerificationChallengeById":{"verified":true}}}`
		}
		return `{"data":{"verifyWalletVerificationChallengeById":{"verified":false}}}`
	})

	ok, err := client.VerifyChallenge(context.Background(), "ch-1", "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.VerifyChallenge(context.Background(), "ch-1", "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteVerification(t *testing.T) {
	client := fakePortal(t, func(req httputil.GraphQLRequest) string {
		assert.Contains(t, req.Query, "deleteWalletVerification")
		assert.Equal(t, "ch-9", req.Variables["challengeId"])
		return `{"data":{"deleteWalletVerification":{"success":true}}}`
	})
	require.NoError(t, client.DeleteVerification(context.Background(), wallet, "otp-1", "ch-9", "123456"))
}

func TestSubmitMutation(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	client := fakePortal(t, func(req httputil.GraphQLRequest) string {
		assert.Contains(t, req.Query, "mint(address: $address")
		input := req.Variables["input"].(map[string]interface{})
		assert.Equal(t, "100", input["amount"])
		assert.Equal(t, "ch-1", req.Variables["challengeId"])
		return `{"data":{"mint":{"transactionHash":"` + hash + `"}}}`
	})

	got, err := client.SubmitMutation(context.Background(), Submission{
		Address:           common.HexToAddress("0x01"),
		From:              wallet,
		Function:          "mint",
		Args:              map[string]interface{}{"amount": "100"},
		ChallengeID:       "ch-1",
		ChallengeResponse: "resp",
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(hash), got)
}

func TestSubmitMutationRejectsBadFunction(t *testing.T) {
	client := fakePortal(t, func(httputil.GraphQLRequest) string {
		t.Error("no request expected")
		return `{}`
	})
	_, err := client.SubmitMutation(context.Background(), Submission{Function: "mint { x }"})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
}

func TestSubmitMutationErrorMapping(t *testing.T) {
	cases := []struct {
		message string
		code    apperrors.ErrorCode
		reason  string
	}{
		{"execution reverted: invalid amount", apperrors.CodeTransactionReverted, "invalid amount"},
		{"token not found", apperrors.CodeInternal, ""},
		{"nonce expired", apperrors.CodeInternal, ""},
		{"Invalid challenge response", apperrors.CodeInvalidCredential, ""},
		{"Challenge has expired", apperrors.CodeExpiredChallenge, ""},
		{"Verification not found", apperrors.CodeVerificationNotConfigured, ""},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			client := fakePortal(t, func(httputil.GraphQLRequest) string {
				return `{"errors":[{"message":"` + tc.message + `"}]}`
			})
			_, err := client.SubmitMutation(context.Background(), Submission{Function: "mint", From: wallet})
			assert.Equal(t, tc.code, apperrors.CodeOf(err))
			if tc.reason != "" {
				se := apperrors.GetServiceError(err)
				require.NotNil(t, se)
				assert.Equal(t, tc.reason, se.Details["revert_reason"])
			}
		})
	}
}

func TestGetReceipt(t *testing.T) {
	contract := common.HexToAddress("0x4000000000000000000000000000000000000004")
	client := fakePortal(t, func(httputil.GraphQLRequest) string {
		return `{"data":{"getTransaction":{"receipt":{"status":"Success","blockNumber":"120","contractAddress":"` +
			contract.Hex() + `","revertReasonDecoded":null}}}}`
	})

	receipt, err := client.GetReceipt(context.Background(), common.Hash{1})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(120), receipt.BlockNumber)
	require.NotNil(t, receipt.ContractAddress)
	assert.Equal(t, contract, *receipt.ContractAddress)
}

func TestGetReceiptReverted(t *testing.T) {
	client := fakePortal(t, func(httputil.GraphQLRequest) string {
		return `{"data":{"getTransaction":{"receipt":{"status":"Reverted","blockNumber":7,"revertReasonDecoded":"ExceedsCap"}}}}`
	})

	receipt, err := client.GetReceipt(context.Background(), common.Hash{1})
	require.NoError(t, err)
	assert.False(t, receipt.Succeeded())
	assert.Equal(t, "ExceedsCap", receipt.RevertReason)
	assert.Nil(t, receipt.ContractAddress)
}

func TestGetReceiptPending(t *testing.T) {
	client := fakePortal(t, func(httputil.GraphQLRequest) string {
		return `{"data":{"getTransaction":{"receipt":null}}}`
	})

	_, err := client.GetReceipt(context.Background(), common.Hash{1})
	assert.ErrorIs(t, err, chain.ErrReceiptNotFound)
}

func TestTransportErrorsPassThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := New(Config{URL: server.URL})
	require.NoError(t, err)

	_, err = client.GetReceipt(context.Background(), common.Hash{1})
	assert.True(t, apperrors.IsRetryable(err))
}
