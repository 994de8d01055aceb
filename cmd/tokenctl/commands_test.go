package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func TestEncodeDecode(t *testing.T) {
	out, err := run(t, "", "encode", "country-allow-list", `{"countries":[56,840]}`)
	require.NoError(t, err)
	params := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(params, "0x"))

	out, err = run(t, "", "decode", "country-allow-list", params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"typeId":"country-allow-list","values":{"countries":[56,840]}}`, out)

	_, err = run(t, "", "encode", "kyc-lite", `{}`)
	assert.Equal(t, apperrors.CodeUnsupportedModuleType, apperrors.CodeOf(err))

	_, err = run(t, "", "decode", "country-allow-list", "abcd")
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
}

func streamServer(t *testing.T, events []pipeline.Event, seen *http.Request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = *r.Clone(r.Context())
		body, _ := io.ReadAll(r.Body)
		seen.Header.Set("X-Test-Body", string(body))

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("X-Action-ID", "act-1")
		enc := json.NewEncoder(w)
		for _, ev := range events {
			require.NoError(t, enc.Encode(ev))
		}
	}))
}

func TestCreateStreamsEvents(t *testing.T) {
	var seen http.Request
	server := streamServer(t, []pipeline.Event{
		{Status: pipeline.PhasePreparing, Message: "Preparing"},
		{Status: pipeline.PhasePending, Message: "Waiting", TransactionHash: "0xabc"},
		{Status: pipeline.PhaseConfirmed, Message: "Confirmed", Final: true},
	}, &seen)
	defer server.Close()

	input := `{"name":"Green Bond","symbol":"GB30","verification":{"code":"123456","type":"pincode"}}`
	out, err := run(t, input, "create", "bond", "--gateway", server.URL, "--token", "tok")
	require.NoError(t, err)

	assert.Equal(t, "/v1/tokens/bond", seen.URL.Path)
	assert.Equal(t, "Bearer tok", seen.Header.Get("Authorization"))
	assert.JSONEq(t, input, seen.Header.Get("X-Test-Body"))
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "✓ done in")
}

func TestActionReportsFailure(t *testing.T) {
	var seen http.Request
	server := streamServer(t, []pipeline.Event{
		{Status: pipeline.PhasePreparing, Message: "Preparing"},
		{Status: pipeline.PhaseFailed, Message: "Invalid verification code", Reason: apperrors.CodeInvalidCredential, Final: true},
	}, &seen)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "mint.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"amount":5,"verification":{"code":"000000","type":"pincode"}}`), 0o600))

	_, err := run(t, "", "action", "mint", "0x00000000000000000000000000000000000000b2",
		"--input", path, "--wait", "--gateway", server.URL)
	assert.Equal(t, apperrors.CodeInvalidCredential, apperrors.CodeOf(err))
	assert.True(t, strings.EqualFold("/v1/tokens/0x00000000000000000000000000000000000000b2/actions/mint", seen.URL.Path), seen.URL.Path)
	assert.Equal(t, "true", seen.URL.Query().Get("waitForIndexing"))
}

func TestGatewayErrorIsDecoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, apperrors.New(apperrors.CodeUnsupportedAssetType, "unsupported asset type"))
	}))
	defer server.Close()

	_, err := run(t, `{}`, "create", "bond", "--gateway", server.URL)
	assert.Equal(t, apperrors.CodeUnsupportedAssetType, apperrors.CodeOf(err))

	_, err = run(t, `not json`, "create", "bond", "--gateway", server.URL)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))

	_, err = run(t, `{}`, "create", "warrant", "--gateway", server.URL)
	assert.Equal(t, apperrors.CodeUnsupportedAssetType, apperrors.CodeOf(err))
}

func TestStatus(t *testing.T) {
	hash := "0x8a3f1c9e2b7d4a6f0e5c3b1a9d8f7e6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a1f0e"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/"+hash, r.URL.Path)
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"phase": "confirmed", "severity": "info"})
	}))
	defer server.Close()

	out, err := run(t, "", "status", hash, "--gateway", server.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"confirmed","severity":"info"}`, out)

	_, err = run(t, "", "status", "0x12", "--gateway", server.URL)
	assert.Error(t, err)
}

func TestStatusFromNode(t *testing.T) {
	hash := "0x8a3f1c9e2b7d4a6f0e5c3b1a9d8f7e6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a1f0e"
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var result interface{}
		switch req.Method {
		case "eth_getTransactionReceipt":
			result = map[string]interface{}{
				"transactionHash":   hash,
				"status":            "0x1",
				"blockNumber":       "0x2a",
				"cumulativeGasUsed": "0x5208",
				"gasUsed":           "0x5208",
				"logsBloom":         "0x" + strings.Repeat("00", 256),
				"logs":              []interface{}{},
			}
		case "eth_blockNumber":
			result = "0x2c"
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer node.Close()

	out, err := run(t, "", "status", hash, "--rpc", node.URL, "--wait")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["succeeded"])
	assert.Equal(t, float64(3), got["confirmations"])
	assert.Equal(t, float64(42), got["blockNumber"])
}

func TestCompletion(t *testing.T) {
	out, err := run(t, "", "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "complete -F _tokenctl_completion tokenctl")
}
